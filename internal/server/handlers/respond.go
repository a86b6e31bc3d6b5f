package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"salesorder-system/internal/apperr"
)

// Helper functions shared by every HTTP handler in this package. All
// responses use the same envelope so clients can branch on "success"
// and "code" without caring which endpoint answered.

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func successMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func created(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func fail(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{
		"success": false,
		"message": apperr.MessageOf(err),
		"code":    apperr.KindOf(err),
	})
}

func failValidation(c *gin.Context, message string) {
	fail(c, apperr.New(apperr.KindValidation, "%s", message))
}

func paginationMeta(page, limit int, total int64) gin.H {
	totalPages := int64(0)
	if limit > 0 {
		totalPages = (total + int64(limit) - 1) / int64(limit)
	}
	return gin.H{
		"page":       page,
		"limit":      limit,
		"total":      total,
		"totalPages": totalPages,
	}
}

func successPaginated(c *gin.Context, data interface{}, page, limit int, total int64) {
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       data,
		"pagination": paginationMeta(page, limit, total),
	})
}

func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		failValidation(c, "Invalid "+name+" parameter")
		return 0, false
	}
	return id, true
}

func pageAndLimit(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 1 {
		limit = 10
	}
	return page, limit
}

func parseBoolQuery(c *gin.Context, param string) *bool {
	str := c.Query(param)
	if str == "" {
		return nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return nil
	}
	return &val
}

func parseInt64Query(c *gin.Context, param string) *int64 {
	str := c.Query(param)
	if str == "" {
		return nil
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return nil
	}
	return &val
}
