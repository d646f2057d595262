package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	// Redis
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Supabase
	SupabaseURL            string
	SupabaseServiceKey     string
	SupabaseStorageBaseURL string

	// OpenAI API
	OpenAIAPIKey     string
	OpenAIChatModel  string
	OpenAIImageModel string

	// Gemini API (분석 Fallback 전용)
	GeminiAPIKey string
	GeminiModel  string

	// Server
	Port string

	// Credit
	CreditPerVariant int

	// Timeouts
	AnalysisTimeout   time.Duration
	GenerationTimeout time.Duration

	// Recovery / Polling
	RecoveryLookback time.Duration
	PollInterval     time.Duration
	PollCeiling      time.Duration

	// Credit 캐시
	BalanceStaleness time.Duration
}

var globalConfig *Config

// LoadConfig - 환경변수 로드
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  .env file not found, using environment variables")
	}

	// Redis UseTLS 파싱
	useTLS := true // 기본값
	if tlsStr := os.Getenv("REDIS_USE_TLS"); tlsStr != "" {
		if parsed, err := strconv.ParseBool(tlsStr); err == nil {
			useTLS = parsed
		}
	}

	// CreditPerVariant 파싱 (1 크레딧 = 1 variant)
	creditPerVariant := 1
	if priceStr := os.Getenv("CREDIT_PER_VARIANT"); priceStr != "" {
		if parsed, err := strconv.Atoi(priceStr); err == nil && parsed > 0 {
			creditPerVariant = parsed
		}
	}

	globalConfig = &Config{
		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   useTLS,

		// Supabase
		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:     getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBaseURL: getEnv("SUPABASE_STORAGE_BASE_URL", ""),

		// OpenAI API
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIChatModel:  getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		OpenAIImageModel: getEnv("OPENAI_IMAGE_MODEL", "dall-e-3"),

		// Gemini API (없으면 fallback 비활성화)
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		// Server
		Port: getEnv("PORT", "8080"),

		// Credit
		CreditPerVariant: creditPerVariant,

		// Timeouts
		AnalysisTimeout:   getDuration("ANALYSIS_TIMEOUT", 30*time.Second),
		GenerationTimeout: getDuration("GENERATION_TIMEOUT", 60*time.Second),

		// Recovery / Polling
		RecoveryLookback: getDuration("RECOVERY_LOOKBACK", time.Hour),
		PollInterval:     getDuration("POLL_INTERVAL", 3*time.Second),
		PollCeiling:      getDuration("POLL_CEILING", 10*time.Minute),

		// Credit 캐시
		BalanceStaleness: getDuration("BALANCE_STALENESS", 5*time.Minute),
	}

	// 필수 환경변수 검증
	if err := globalConfig.validate(); err != nil {
		return nil, err
	}

	log.Println("✅ Configuration loaded successfully")
	log.Printf("   Redis: %s:%s (TLS: %v)", globalConfig.RedisHost, globalConfig.RedisPort, globalConfig.RedisUseTLS)
	log.Printf("   Supabase: %s", globalConfig.SupabaseURL)
	log.Printf("   OpenAI: chat=%s image=%s", globalConfig.OpenAIChatModel, globalConfig.OpenAIImageModel)
	log.Printf("   Credit: %d per variant", globalConfig.CreditPerVariant)

	return globalConfig, nil
}

// GetConfig - 로드된 설정 가져오기
func GetConfig() *Config {
	if globalConfig == nil {
		log.Fatal("❌ Config not loaded. Call LoadConfig() first.")
	}
	return globalConfig
}

// SetConfigForTest - 테스트 전용 설정 주입
func SetConfigForTest(cfg *Config) {
	globalConfig = cfg
}

// validate - 필수 환경변수 검증
func (c *Config) validate() error {
	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	return nil
}

// getEnv - 환경변수 가져오기 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration - 환경변수를 Duration으로 파싱 (기본값 지원)
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
