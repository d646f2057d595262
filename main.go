package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"stylio-studio-server/modules/common/auth"
	"stylio-studio-server/modules/common/config"
	"stylio-studio-server/modules/common/credit"
	"stylio-studio-server/modules/common/database"
	"stylio-studio-server/modules/common/gemini"
	openaiclient "stylio-studio-server/modules/common/openai"
	redisClient "stylio-studio-server/modules/common/redis"
	"stylio-studio-server/modules/common/storage"
	"stylio-studio-server/modules/progress"
	"stylio-studio-server/modules/studio"
)

var startTime = time.Now()

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// 공용 클라이언트 초기화
	records := database.NewClient()
	if records == nil {
		log.Fatal("❌ Failed to initialize Database client")
	}

	rdb := redisClient.Connect(cfg)
	if rdb == nil {
		log.Fatal("❌ Failed to connect to Redis")
	}
	log.Println("✅ Redis connected successfully")

	ledger := credit.NewStore()
	authClient := auth.NewClient()
	api := openaiclient.NewClient()
	archiver := storage.NewClient()
	hub := progress.NewHub()

	// Gemini fallback은 선택적 - 키가 없으면 비활성화
	var fb studio.FallbackAnalyzer
	if analyzer := gemini.NewAnalyzer(context.Background()); analyzer != nil {
		fb = analyzer
		log.Println("✅ Gemini fallback analyzer enabled")
	}

	service := studio.NewService(records, ledger, api, fb, archiver, hub)
	recovery := studio.NewRecovery(records, ledger, hub)
	handler := studio.NewHandler(service, recovery, records, ledger, authClient, hub, rdb)

	// Redis Queue Worker 시작 (백그라운드)
	go studio.StartWorker(rdb, service, records)

	// 라우터 설정
	r := mux.NewRouter()

	// CORS 미들웨어 적용
	r.Use(enableCORS)

	// 라우트 설정
	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/metrics", getMetrics).Methods("GET")
	r.HandleFunc("/ws/progress", hub.HandleWebSocket)
	handler.RegisterRoutes(r)

	port := cfg.Port

	log.Printf("🚀 Stylio Studio Server starting on port %s", port)
	log.Printf("📡 Progress WebSocket: ws://localhost:%s/ws/progress", port)
	log.Printf("❤️  Health check: http://localhost:%s/health", port)
	log.Printf("📊 Metrics: http://localhost:%s/metrics", port)

	// 서버 시작
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// CORS 미들웨어
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// 헬스 체크 엔드포인트
func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "stylio-studio-server",
	})
}

// 서버 메트릭 엔드포인트
func getMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"service":   "stylio-studio-server",
		"startTime": startTime,
		"uptime":    time.Since(startTime).String(),
	})
}
