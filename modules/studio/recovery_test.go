package studio

import (
	"context"
	"testing"
	"time"

	"stylio-studio-server/modules/common/model"
	"stylio-studio-server/modules/progress"
)

func newTestRecovery(records *fakeRecords, ledger *fakeLedger) (*Recovery, *progress.Hub) {
	hub := progress.NewHub()
	rec := &Recovery{
		records:      records,
		ledger:       ledger,
		hub:          hub,
		pollInterval: 10 * time.Millisecond,
		pollCeiling:  500 * time.Millisecond,
	}
	return rec, hub
}

func processingGeneration(id string) *model.Generation {
	return &model.Generation{
		GenerationID: id,
		UserID:       "user-1",
		Status:       model.StatusProcessing,
		VariantCount: 2,
		CreatedAt:    time.Now().Add(-2 * time.Minute),
	}
}

// waitForState - hub tracker가 원하는 상태가 될 때까지 대기
func waitForState(t *testing.T, hub *progress.Hub, generationID, state string) progress.Tracker {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tracker, ok := hub.Snapshot(generationID); ok && tracker.State == state {
			return tracker
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("tracker %s never reached state %s", generationID, state)
	return progress.Tracker{}
}

func TestFindActiveNone(t *testing.T) {
	records := &fakeRecords{generations: make(map[string]*model.Generation)}
	recovery, _ := newTestRecovery(records, &fakeLedger{})

	state, err := recovery.FindActive(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FindActive failed: %v", err)
	}
	if state.Found {
		t.Errorf("Found = true with no active generation")
	}
}

func TestFindActiveAdoptsProcessing(t *testing.T) {
	gen := processingGeneration("gen-r1")
	records := &fakeRecords{
		activeGen:   gen,
		generations: map[string]*model.Generation{"gen-r1": gen},
	}
	ledger := newFakeLedger("user-1", 5)
	recovery, hub := newTestRecovery(records, ledger)

	state, err := recovery.FindActive(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FindActive failed: %v", err)
	}
	if !state.Found || state.GenerationID != "gen-r1" {
		t.Fatalf("state = %+v", state)
	}
	if state.Status != model.StatusProcessing {
		t.Errorf("Status = %q, want processing", state.Status)
	}
	// 실제 단계를 모르므로 중간값으로 표시
	if state.Percent != 50 {
		t.Errorf("Percent = %d, want 50", state.Percent)
	}

	// 백그라운드 폴링이 완료를 감지하는지
	records.mu.Lock()
	records.generations["gen-r1"] = &model.Generation{
		GenerationID:    "gen-r1",
		UserID:          "user-1",
		Status:          model.StatusCompleted,
		GeneratedImages: []string{"https://storage.example.com/a.webp", "https://storage.example.com/b.webp"},
		CreatedAt:       gen.CreatedAt,
	}
	records.mu.Unlock()

	tracker := waitForState(t, hub, "gen-r1", progress.StateCompleted)
	if len(tracker.Images) != 2 {
		t.Errorf("got %d recovered images, want 2", len(tracker.Images))
	}
	// 완료 감지 후 잔액 재동기화
	ledger.mu.Lock()
	fetches := ledger.fetchCalls
	ledger.mu.Unlock()
	if fetches == 0 {
		t.Error("no balance refresh after recovered completion")
	}
}

func TestFindActiveCompletedRecord(t *testing.T) {
	// 조회와 완료 사이 레이스 - 이미 완료된 레코드가 반환될 수 있음
	records := &fakeRecords{
		activeGen: &model.Generation{
			GenerationID:    "gen-r2",
			UserID:          "user-1",
			Status:          model.StatusCompleted,
			GeneratedImages: []string{"https://storage.example.com/a.webp"},
			CreatedAt:       time.Now().Add(-time.Minute),
		},
		generations: make(map[string]*model.Generation),
	}
	ledger := &fakeLedger{}
	recovery, _ := newTestRecovery(records, ledger)

	state, err := recovery.FindActive(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FindActive failed: %v", err)
	}
	if !state.Found || state.Status != model.StatusCompleted {
		t.Fatalf("state = %+v", state)
	}
	if len(state.Images) != 1 {
		t.Errorf("got %d images, want 1", len(state.Images))
	}
	if state.Percent != 100 {
		t.Errorf("Percent = %d, want 100", state.Percent)
	}
	if ledger.fetchCalls == 0 {
		t.Error("no balance refresh for completed recovery")
	}
}

func TestFindActivePrefersLocalTracker(t *testing.T) {
	records := &fakeRecords{generations: make(map[string]*model.Generation)}
	recovery, hub := newTestRecovery(records, &fakeLedger{})

	hub.Begin("gen-local", "user-1")
	hub.Update("gen-local", 70, "Generating image 2 of 3")

	state, err := recovery.FindActive(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FindActive failed: %v", err)
	}
	if !state.Found || state.GenerationID != "gen-local" {
		t.Fatalf("state = %+v", state)
	}
	if state.Percent != 70 {
		t.Errorf("Percent = %d, want 70 from local tracker", state.Percent)
	}
	// 로컬 추적 중이면 DB 조회 없음
	if records.activeCalls != 0 {
		t.Errorf("FetchActiveGeneration called %d times with a local tracker", records.activeCalls)
	}
}

func TestMonitorDetectsFailure(t *testing.T) {
	msg := "variant 2 of 2 failed: image generation failed"
	gen := processingGeneration("gen-r3")
	records := &fakeRecords{
		generations: map[string]*model.Generation{"gen-r3": gen},
	}
	recovery, hub := newTestRecovery(records, &fakeLedger{})

	hub.Begin("gen-r3", "user-1")
	go recovery.Monitor(context.Background(), "gen-r3", "user-1")

	records.mu.Lock()
	failed := *gen
	failed.Status = model.StatusFailed
	failed.ErrorMessage = &msg
	records.generations["gen-r3"] = &failed
	records.mu.Unlock()

	tracker := waitForState(t, hub, "gen-r3", progress.StateFailed)
	if tracker.ErrorMessage != msg {
		t.Errorf("ErrorMessage = %q, want %q", tracker.ErrorMessage, msg)
	}
}

func TestMonitorStopsAtCeiling(t *testing.T) {
	// 레코드가 계속 processing이어도 상한에서 멈춰야 함
	gen := processingGeneration("gen-r4")
	records := &fakeRecords{
		generations: map[string]*model.Generation{"gen-r4": gen},
	}
	recovery, hub := newTestRecovery(records, &fakeLedger{})
	recovery.pollCeiling = 50 * time.Millisecond

	hub.Begin("gen-r4", "user-1")

	done := make(chan struct{})
	go func() {
		recovery.Monitor(context.Background(), "gen-r4", "user-1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not stop at the polling ceiling")
	}
}

func TestMonitorStopsOnLocalCancel(t *testing.T) {
	gen := processingGeneration("gen-r5")
	records := &fakeRecords{
		generations: map[string]*model.Generation{"gen-r5": gen},
	}
	recovery, hub := newTestRecovery(records, &fakeLedger{})

	hub.Begin("gen-r5", "user-1")

	done := make(chan struct{})
	go func() {
		recovery.Monitor(context.Background(), "gen-r5", "user-1")
		close(done)
	}()

	if !hub.Cancel("gen-r5") {
		t.Fatal("Cancel returned false for running tracker")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not stop after local cancel")
	}
}
