package studio

import (
	"context"
	"log"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"stylio-studio-server/modules/common/model"
	"stylio-studio-server/modules/common/redis"
)

// StartWorker - Redis Queue Worker 시작
// 예약된 생성 ID를 큐에서 꺼내 잔여 단계를 실행함
func StartWorker(rdb *goredis.Client, service *Service, records RecordStore) {
	log.Println("🔄 Studio queue worker starting...")
	log.Printf("👀 Watching queue: %s", redis.QueueKey)

	ctx := context.Background()

	for {
		// 생성 ID 받기 (BRPOP - Blocking Right Pop)
		result, err := rdb.BRPop(ctx, 0, redis.QueueKey).Result()
		if err != nil {
			log.Printf("❌ Redis BRPOP error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		// result[0]은 큐 이름, result[1]이 generation_id
		generationID := result[1]
		log.Printf("🎯 Received generation: %s", generationID)

		go processGeneration(ctx, service, records, generationID)
	}
}

// processGeneration - 큐에서 받은 생성 1건 처리
func processGeneration(ctx context.Context, service *Service, records RecordStore, generationID string) {
	log.Printf("🚀 Processing generation: %s", generationID)

	gen, err := records.FetchGeneration(ctx, generationID)
	if err != nil {
		log.Printf("❌ Failed to fetch generation %s: %v", generationID, err)
		return
	}
	if gen == nil {
		log.Printf("⚠️ Generation %s not found, skipping", generationID)
		return
	}

	// 이미 종료된 레코드는 건너뜀 (중복 enqueue 방어)
	if model.IsTerminal(gen.Status) {
		log.Printf("⚠️ Generation %s already %s, skipping", generationID, gen.Status)
		return
	}

	if _, err := service.RunReservedRecord(ctx, gen); err != nil {
		log.Printf("❌ Generation %s failed: %v", generationID, err)
		return
	}

	log.Printf("✅ Generation %s processing completed", generationID)
}
