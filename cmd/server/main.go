package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"salesorder-system/config"
	"salesorder-system/internal/database"
	"salesorder-system/internal/server/handlers"
	"salesorder-system/internal/server/middleware"
)

func main() {
	cfg := config.LoadConfig()

	db, err := database.NewConnection(cfg.DB.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.MigrateSalesDB(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	redisClient := config.NewRedisClient(cfg.Redis)

	inventoryHandler := handlers.NewInventoryHandler(db, redisClient, cfg.Order.TxTimeout)
	orderHandler := handlers.NewOrderHandler(db, redisClient, cfg.Order.TxTimeout, inventoryHandler)
	customerHandler := handlers.NewCustomerHandler(db)
	goodsHandler := handlers.NewGoodsHandler(db, redisClient, inventoryHandler)
	healthHandler := handlers.NewHealthHandler(db, redisClient)

	r := gin.Default()

	r.Use(middleware.CORS())
	r.Use(middleware.RateLimit("100-M"))

	api := r.Group("/api")
	if cfg.Auth.Enabled {
		api.Use(middleware.JWTAuth([]byte(cfg.Auth.Secret)))
	}
	{
		customers := api.Group("/customers")
		{
			customers.POST("", customerHandler.CreateCustomer)
			customers.GET("", customerHandler.ListCustomers)
			customers.GET("/:id", customerHandler.GetCustomer)
			customers.PUT("/:id", customerHandler.UpdateCustomer)
			customers.DELETE("/:id", customerHandler.DeleteCustomer)
		}

		goods := api.Group("/goods")
		{
			goods.POST("", goodsHandler.CreateGoods)
			goods.GET("", goodsHandler.ListGoods)
			goods.GET("/:id", goodsHandler.GetGoods)
			goods.PUT("/:id", goodsHandler.UpdateGoods)
			goods.DELETE("/:id", goodsHandler.DeleteGoods)
		}

		inventory := api.Group("/inventory")
		{
			inventory.GET("", inventoryHandler.ListInventory)
			inventory.GET("/goods/:goodsId", inventoryHandler.GetInventoryByGoods)
			inventory.PUT("/:id", inventoryHandler.UpdateStock)
			inventory.POST("/check", inventoryHandler.CheckAvailability)
			inventory.POST("/reserve", inventoryHandler.ReserveStock)
			inventory.POST("/release", inventoryHandler.ReleaseReservation)
		}

		orders := api.Group("/orders")
		{
			orders.POST("", orderHandler.CreateOrder)
			orders.GET("", orderHandler.ListOrders)
			orders.GET("/:id", orderHandler.GetOrder)
			orders.PUT("/:id/status", orderHandler.UpdateOrderStatus)
			orders.DELETE("/:id", orderHandler.CancelOrder)
			orders.POST("/:id/fulfill", orderHandler.FulfillPreorder)
		}
	}

	r.GET("/health", healthHandler.Health)

	addr := ":" + cfg.Server.Port
	log.Printf("Starting sales order server on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
