package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the configuration for the recommender service
type Config struct {
	Corpus    CorpusConfig
	Dataset   DatasetConfig
	Storage   StorageConfig
	Recommend RecommendConfig
	Poster    PosterConfig
	Server    ServerConfig
}

// CorpusConfig controls how raw items become vectors
type CorpusConfig struct {
	MaxFeatures    int
	CastLimit      int
	DirectorJob    string
	MinTokenLength int
	Workers        int
}

// DatasetConfig locates the raw TMDB tables and, optionally, where to fetch them
type DatasetConfig struct {
	MoviesPath    string
	CreditsPath   string
	MoviesURL     string
	CreditsURL    string
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// StorageConfig holds artifact storage configuration
type StorageConfig struct {
	Backend string
	Dir     string
}

type RecommendConfig struct {
	DefaultK int
	MaxK     int
	MinScore float64
}

// PosterConfig holds poster lookup configuration
type PosterConfig struct {
	Provider         string
	BaseURL          string
	APIKey           string
	ImageBaseURL     string
	PageURLTemplate  string
	Placeholder      string
	Timeout          time.Duration
	RatePerSecond    float64
	Burst            int
	CacheSize        int
	FailureThreshold int
	OpenTimeout      time.Duration
}

type ServerConfig struct {
	Addr string
}

// Load loads configuration from environment variables with defaults.
// A .env file in the working directory is read first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Corpus: CorpusConfig{
			MaxFeatures:    GetIntEnv("CORPUS_MAX_FEATURES", 5000),
			CastLimit:      GetIntEnv("CORPUS_CAST_LIMIT", 3),
			DirectorJob:    GetStringEnv("CORPUS_DIRECTOR_JOB", "Director"),
			MinTokenLength: GetIntEnv("CORPUS_MIN_TOKEN_LENGTH", 2),
			Workers:        GetIntEnv("CORPUS_WORKERS", runtime.NumCPU()),
		},
		Dataset: DatasetConfig{
			MoviesPath:    GetStringEnv("DATASET_MOVIES_PATH", "data/tmdb_5000_movies.csv"),
			CreditsPath:   GetStringEnv("DATASET_CREDITS_PATH", "data/tmdb_5000_credits.csv"),
			MoviesURL:     GetStringEnv("DATASET_MOVIES_URL", ""),
			CreditsURL:    GetStringEnv("DATASET_CREDITS_URL", ""),
			UserAgent:     GetStringEnv("DATASET_USER_AGENT", "Recommender/1.0"),
			RespectRobots: GetBoolEnv("DATASET_RESPECT_ROBOTS", true),
			Timeout:       GetDurationEnv("DATASET_TIMEOUT", 60*time.Second),
		},
		Storage: StorageConfig{
			Backend: GetStringEnv("STORAGE_BACKEND", "file"),
			Dir:     GetStringEnv("STORAGE_DIR", "artifacts"),
		},
		Recommend: RecommendConfig{
			DefaultK: GetIntEnv("RECOMMEND_DEFAULT_K", 5),
			MaxK:     GetIntEnv("RECOMMEND_MAX_K", 50),
			MinScore: GetFloatEnv("RECOMMEND_MIN_SCORE", 0),
		},
		Poster: PosterConfig{
			Provider:         GetStringEnv("POSTER_PROVIDER", "tmdb"),
			BaseURL:          GetStringEnv("POSTER_BASE_URL", "https://api.themoviedb.org/3"),
			APIKey:           GetStringEnv("POSTER_API_KEY", ""),
			ImageBaseURL:     GetStringEnv("POSTER_IMAGE_BASE_URL", "https://image.tmdb.org/t/p/w500"),
			PageURLTemplate:  GetStringEnv("POSTER_PAGE_URL_TEMPLATE", "https://www.themoviedb.org/movie/%d"),
			Placeholder:      GetStringEnv("POSTER_PLACEHOLDER", "https://via.placeholder.com/500x750?text=No+Image"),
			Timeout:          GetDurationEnv("POSTER_TIMEOUT", 5*time.Second),
			RatePerSecond:    GetFloatEnv("POSTER_RATE_PER_SECOND", 20),
			Burst:            GetIntEnv("POSTER_BURST", 5),
			CacheSize:        GetIntEnv("POSTER_CACHE_SIZE", 2048),
			FailureThreshold: GetIntEnv("POSTER_FAILURE_THRESHOLD", 5),
			OpenTimeout:      GetDurationEnv("POSTER_OPEN_TIMEOUT", 30*time.Second),
		},
		Server: ServerConfig{
			Addr: GetStringEnv("SERVER_ADDR", ":8080"),
		},
	}
}

func GetStringEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
