package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Config 应用配置
type Config struct {
	Env         string
	DatabaseURL string
	DBPoolSize  int // 常驻连接数
	DBOverflow  int // 高峰期额外连接数

	ServerPort string

	// YTS 目录 API
	YTSBaseURL      string
	FetchBatchSize  int           // 每个批次的电影数
	PageParallelism int           // 列表页并发抓取上限
	MaxWorkers      int           // 0 表示 2×CPU，且不超过批次数
	RequestDelay    time.Duration // 同一 worker 相邻两次详情请求之间的间隔

	// Ollama 嵌入服务
	OllamaHost         string
	EmbeddingModel     string
	OllamaTimeout      time.Duration
	EmbeddingDimension int
	EmbeddingBatchSize int // 每次批量加载并向量化的电影数
	EmbeddingMaxConc   int // 同时在途的嵌入请求上限
}

// Load 加载配置
func Load() *Config {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbUser := getEnv("DB_USER", "postgres")
		dbPass := getEnv("DB_PASSWORD", "postgres")
		dbHost := getEnv("DB_HOST", "localhost")
		dbPort := getEnv("DB_PORT", "5432")
		dbName := getEnv("DB_NAME", "movies")
		dbSSL := getEnv("DB_SSLMODE", "disable")
		dbURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			dbUser, dbPass, dbHost, dbPort, dbName, dbSSL)
	}

	return &Config{
		Env:         getEnv("APP_ENV", "development"),
		DatabaseURL: dbURL,
		DBPoolSize:  getEnvInt("DB_POOL_SIZE", 10),
		DBOverflow:  getEnvInt("DB_MAX_OVERFLOW", 20),

		ServerPort: getEnv("SERVER_PORT", "8080"),

		YTSBaseURL:      getEnv("YTS_API_URL", "https://yts.mx/api/v2"),
		FetchBatchSize:  getEnvInt("YTS_BATCH_SIZE", 50),
		PageParallelism: getEnvInt("YTS_PAGE_PARALLELISM", 20),
		MaxWorkers:      getEnvInt("MAX_WORKERS", 0),
		RequestDelay:    time.Duration(getEnvInt("YTS_REQUEST_DELAY_MS", 100)) * time.Millisecond,

		OllamaHost:         getEnv("OLLAMA_HOST", "http://localhost:11434"),
		EmbeddingModel:     getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
		OllamaTimeout:      time.Duration(getEnvInt("OLLAMA_TIMEOUT", 120)) * time.Second,
		EmbeddingDimension: getEnvInt("EMBEDDING_DIMENSION", 768),
		EmbeddingBatchSize: getEnvInt("EMBEDDING_BATCH_SIZE", 100),
		EmbeddingMaxConc:   getEnvInt("EMBEDDING_MAX_CONCURRENT", 10),
	}
}

// LogSummary 启动时打印生效配置（不含密码）
func (c *Config) LogSummary() {
	log.Printf("[配置] 环境: %s", c.Env)
	log.Printf("[配置] 数据库连接池: %d (+%d 溢出)", c.DBPoolSize, c.DBOverflow)
	log.Printf("[配置] YTS API: %s 批次大小=%d 列表页并发=%d", c.YTSBaseURL, c.FetchBatchSize, c.PageParallelism)
	log.Printf("[配置] Ollama: %s 模型=%s 超时=%s 维度=%d", c.OllamaHost, c.EmbeddingModel, c.OllamaTimeout, c.EmbeddingDimension)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("[配置] %s 的值 %q 不是整数，使用默认值 %d", key, value, defaultValue)
	}
	return defaultValue
}
