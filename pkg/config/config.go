package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      string
	FirebaseProject string
	Environment     string

	// StoreDriver selects the document store backend: "firestore" or "memory".
	StoreDriver         string
	StorageBucket       string
	ServiceAccountJSON  string
	ServiceAccountPath  string
	MessagePageSize     int
	MaxPageSize         int
	PresenceBatchSize   int
	PresenceStopTimeout time.Duration
	UploadMaxBytes      int64
	UploadEndpoint      string
	CredentialsDBPath   string
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		FirebaseProject:     getEnv("FIREBASE_PROJECT_ID", ""),
		Environment:         getEnv("ENVIRONMENT", "development"),
		StoreDriver:         getEnv("STORE_DRIVER", "firestore"),
		StorageBucket:       getEnv("STORAGE_BUCKET", ""),
		ServiceAccountJSON:  getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		ServiceAccountPath:  getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		MessagePageSize:     getEnvAsInt("MESSAGE_PAGE_SIZE", 30),
		MaxPageSize:         getEnvAsInt("MAX_PAGE_SIZE", 100),
		PresenceBatchSize:   getEnvAsInt("PRESENCE_BATCH_SIZE", 10), // Firestore "in" query width
		PresenceStopTimeout: getEnvAsDuration("PRESENCE_STOP_TIMEOUT", 5*time.Second),
		UploadMaxBytes:      getEnvAsInt64("UPLOAD_MAX_BYTES", 10<<20),
		UploadEndpoint:      getEnv("UPLOAD_ENDPOINT", "http://localhost:8080/v1/uploads/chat-image"),
		CredentialsDBPath:   getEnv("CREDENTIALS_DB_PATH", "chatctl.db"),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.Atoi(value)
		if err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
