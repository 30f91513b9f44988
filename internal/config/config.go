package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP API
	HTTPPort int

	// Persistence
	DatabasePath   string
	MigrationsPath string

	// Fleet liveness
	OfflineAfter time.Duration

	// Robot command endpoint (core -> robot)
	RobotCommandPort int

	// Room whose beacon marks the charging/loading base
	BaseRoomName string
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		HTTPPort:         getEnvInt("CONTROL_HTTP_PORT", 8081),
		DatabasePath:     getEnv("CONTROL_DB_PATH", "./control.db"),
		MigrationsPath:   getEnv("CONTROL_MIGRATIONS_PATH", "./migrations"),
		OfflineAfter:     time.Duration(getEnvInt("ROBOT_OFFLINE_AFTER_SECONDS", 20)) * time.Second,
		RobotCommandPort: getEnvInt("ROBOT_COMMAND_PORT", 5000),
		BaseRoomName:     getEnv("BASE_ROOM_NAME", "Base"),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}
