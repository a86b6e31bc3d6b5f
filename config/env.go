package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Redis  RedisConfig
	DB     DBConfig
	Auth   AuthConfig
	Server ServerConfig
	Order  OrderConfig
}

type DBConfig struct {
	DSN string
}

type AuthConfig struct {
	Enabled bool
	Secret  string
}

type ServerConfig struct {
	Port string
}

type OrderConfig struct {
	// TxTimeout bounds lock wait plus commit for every ledger-mutating
	// transaction. Exceeding it aborts the whole operation.
	TxTimeout time.Duration
}

func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	authEnabled, _ := strconv.ParseBool(getEnv("AUTH_ENABLED", "false"))

	txTimeout := 10 * time.Second
	if ms, err := strconv.Atoi(getEnv("ORDER_TX_TIMEOUT_MS", "")); err == nil && ms > 0 {
		txTimeout = time.Duration(ms) * time.Millisecond
	}

	return Config{
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		DB: DBConfig{
			DSN: getEnv("SALES_DSN", ""),
		},
		Auth: AuthConfig{
			Enabled: authEnabled,
			Secret:  getEnv("AUTH_SECRET", ""),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "3300"),
		},
		Order: OrderConfig{
			TxTimeout: txTimeout,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
