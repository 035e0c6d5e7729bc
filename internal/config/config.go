package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

type Config struct {
	Env string

	ServerPort string

	StoreBackend string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisURL string

	JWTSecret         string
	AccessTokenMaxAge int

	FirebaseProjectID       string
	FirebaseCredentialsFile string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string

	FeedMinDisplay     time.Duration
	PreloadConcurrency int
	PreloadTimeout     time.Duration

	WorkerCount int
}

func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables")
	}

	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = "8080"
	}

	backend := os.Getenv("STORE_BACKEND")
	if backend != BackendFirestore {
		backend = BackendPostgres
	}

	sslMode := os.Getenv("DB_SSLMODE")
	if sslMode == "" {
		sslMode = "require"
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	return &Config{
		Env: getEnv("APP_ENV", "development"),

		ServerPort: serverPort,

		StoreBackend: backend,

		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  sslMode,

		RedisURL: redisURL,

		JWTSecret:         os.Getenv("JWT_SECRET"),
		AccessTokenMaxAge: positiveInt("ACCESS_TOKEN_MAX_AGE", 900),

		FirebaseProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		FirebaseCredentialsFile: os.Getenv("FIREBASE_CREDENTIALS_FILE"),

		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		R2PublicURL:       os.Getenv("R2_PUBLIC_URL"),

		FeedMinDisplay:     time.Duration(positiveInt("FEED_MIN_DISPLAY_MS", 1000)) * time.Millisecond,
		PreloadConcurrency: positiveInt("PRELOAD_CONCURRENCY", 8),
		PreloadTimeout:     time.Duration(positiveInt("PRELOAD_TIMEOUT_MS", 10000)) * time.Millisecond,

		WorkerCount: positiveInt("WORKER_COUNT", 2),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func positiveInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
