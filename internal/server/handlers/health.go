package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewHealthHandler(db *gorm.DB, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient}
}

// GET /health
func (s *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := gin.H{}
	status := "healthy"
	httpStatus := http.StatusOK

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		components["database"] = gin.H{"status": "unavailable", "message": err.Error()}
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		components["database"] = gin.H{"status": "healthy"}
	}

	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			components["redis"] = gin.H{"status": "unavailable", "message": err.Error()}
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			components["redis"] = gin.H{"status": "healthy"}
		}
	} else {
		components["redis"] = gin.H{"status": "disabled"}
	}

	c.JSON(httpStatus, gin.H{
		"status":     status,
		"components": components,
		"timestamp":  time.Now(),
	})
}
