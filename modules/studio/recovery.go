package studio

import (
	"context"
	"log"
	"time"

	"stylio-studio-server/modules/common/config"
	"stylio-studio-server/modules/common/model"
	"stylio-studio-server/modules/progress"
)

// RecoveryState - 복구 조회 결과
type RecoveryState struct {
	Found        bool
	GenerationID string
	Status       string
	Percent      int
	Images       []model.GeneratedVariant
}

// Recovery - 페이지 리로드 후 진행 중 생성 복구
// 로컬에서 추적 중인 생성이 없을 때만 DB에서 채택함
type Recovery struct {
	records      RecordStore
	ledger       Ledger
	hub          *progress.Hub
	pollInterval time.Duration
	pollCeiling  time.Duration
}

// NewRecovery - Recovery 생성
func NewRecovery(records RecordStore, ledger Ledger, hub *progress.Hub) *Recovery {
	cfg := config.GetConfig()
	return &Recovery{
		records:      records,
		ledger:       ledger,
		hub:          hub,
		pollInterval: cfg.PollInterval,
		pollCeiling:  cfg.PollCeiling,
	}
}

// FindActive - 사용자의 활성 생성 조회
// 로컬 tracker 우선, 없으면 최근 1시간 내 processing 레코드 1건을 채택
func (r *Recovery) FindActive(ctx context.Context, userID string) (*RecoveryState, error) {
	// 이미 로컬에서 추적 중이면 그대로 반환 (중복 채택 방지)
	if tracker, ok := r.hub.ActiveFor(userID); ok {
		return &RecoveryState{
			Found:        true,
			GenerationID: tracker.GenerationID,
			Status:       model.StatusProcessing,
			Percent:      tracker.Percent,
		}, nil
	}

	rec, err := r.records.FetchActiveGeneration(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &RecoveryState{Found: false}, nil
	}

	// 레이스로 이미 완료됐을 수 있음 - 완료 결과를 그대로 보여줌
	if rec.Status == model.StatusCompleted {
		if _, err := r.ledger.FetchCredits(ctx, userID); err != nil {
			log.Printf("⚠️ Failed to refresh credits during recovery: %v", err)
		}
		return &RecoveryState{
			Found:        true,
			GenerationID: rec.GenerationID,
			Status:       model.StatusCompleted,
			Percent:      100,
			Images:       projectVariants(rec),
		}, nil
	}

	log.Printf("🔄 Recovering in-progress generation %s for user %s", rec.GenerationID, userID)

	// 실제 단계를 알 수 없으므로 중간값으로 표시
	r.hub.Begin(rec.GenerationID, rec.UserID)
	r.hub.Update(rec.GenerationID, 50, "Recovering in-progress generation")

	go r.Monitor(context.Background(), rec.GenerationID, rec.UserID)

	return &RecoveryState{
		Found:        true,
		GenerationID: rec.GenerationID,
		Status:       model.StatusProcessing,
		Percent:      50,
	}, nil
}

// Monitor - 채택한 생성이 종료 상태가 될 때까지 주기적으로 폴링
// 무한 타이머 방지를 위해 상태와 무관하게 상한 시간에 중단됨
func (r *Recovery) Monitor(ctx context.Context, generationID, userID string) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(r.pollCeiling)
	percent := 50

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			log.Printf("⏰ Stopped polling generation %s after %v", generationID, r.pollCeiling)
			return
		}

		// 로컬 취소 시 폴링만 중단 - 원격 작업은 계속됨
		if r.hub.IsCancelled(generationID) {
			log.Printf("🛑 Generation %s cancelled locally, stopping recovery polling", generationID)
			return
		}

		rec, err := r.records.FetchGeneration(ctx, generationID)
		if err != nil {
			log.Printf("⚠️ Recovery poll failed for %s: %v", generationID, err)
			continue
		}

		switch rec.Status {
		case model.StatusCompleted:
			if _, err := r.ledger.FetchCredits(ctx, userID); err != nil {
				log.Printf("⚠️ Failed to refresh credits after recovery: %v", err)
			}
			r.hub.Complete(generationID, projectVariants(rec))
			log.Printf("✅ Recovered generation %s completed", generationID)
			return

		case model.StatusFailed:
			msg := "generation failed"
			if rec.ErrorMessage != nil && *rec.ErrorMessage != "" {
				msg = *rec.ErrorMessage
			}
			if _, err := r.ledger.FetchCredits(ctx, userID); err != nil {
				log.Printf("⚠️ Failed to refresh credits after recovery: %v", err)
			}
			r.hub.Fail(generationID, msg)
			log.Printf("❌ Recovered generation %s failed: %s", generationID, msg)
			return

		default:
			// 아직 진행 중 - 추정 진행률만 천천히 올림
			if percent < 95 {
				percent += 2
			}
			r.hub.Update(generationID, percent, "Still generating")
		}
	}
}

// projectVariants - 완료된 레코드의 이미지 URL 목록을 variant로 투영
func projectVariants(rec *model.Generation) []model.GeneratedVariant {
	variants := make([]model.GeneratedVariant, 0, len(rec.GeneratedImages))
	for i, url := range rec.GeneratedImages {
		variants = append(variants, model.GeneratedVariant{
			URL:          url,
			Index:        i,
			GenerationID: rec.GenerationID,
			CreatedAt:    rec.CreatedAt,
		})
	}
	return variants
}
