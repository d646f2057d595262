package progress

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"stylio-studio-server/modules/common/model"
)

func TestTrackerLifecycle(t *testing.T) {
	hub := NewHub()

	hub.Begin("gen-1", "user-1")

	tracker, ok := hub.Snapshot("gen-1")
	if !ok {
		t.Fatal("tracker not found after Begin")
	}
	if tracker.State != StateRunning || tracker.Percent != 0 {
		t.Errorf("initial tracker = %+v", tracker)
	}

	hub.Update("gen-1", 40, "Composing prompts")
	tracker, _ = hub.Snapshot("gen-1")
	if tracker.Percent != 40 || tracker.Step != "Composing prompts" {
		t.Errorf("after update: %+v", tracker)
	}

	images := []model.GeneratedVariant{{URL: "https://storage.example.com/a.webp", Index: 0, GenerationID: "gen-1"}}
	hub.Complete("gen-1", images)
	tracker, _ = hub.Snapshot("gen-1")
	if tracker.State != StateCompleted || tracker.Percent != 100 {
		t.Errorf("after complete: %+v", tracker)
	}
	if len(tracker.Images) != 1 {
		t.Errorf("images = %+v", tracker.Images)
	}
}

func TestUpdateAfterTerminalIsNoop(t *testing.T) {
	hub := NewHub()
	hub.Begin("gen-1", "user-1")
	hub.Fail("gen-1", "style analysis failed")

	hub.Update("gen-1", 80, "Generating image 2 of 3")

	tracker, _ := hub.Snapshot("gen-1")
	if tracker.State != StateFailed {
		t.Errorf("State = %q, want failed", tracker.State)
	}
	if tracker.Percent == 80 {
		t.Error("update applied to terminal tracker")
	}
	if tracker.ErrorMessage != "style analysis failed" {
		t.Errorf("ErrorMessage = %q", tracker.ErrorMessage)
	}
}

func TestCancelIsLocalOnly(t *testing.T) {
	hub := NewHub()

	// 실행 중이 아닌 대상은 취소 불가
	if hub.Cancel("gen-unknown") {
		t.Error("Cancel returned true for unknown generation")
	}

	hub.Begin("gen-1", "user-1")
	if !hub.Cancel("gen-1") {
		t.Error("Cancel returned false for running generation")
	}
	if !hub.IsCancelled("gen-1") {
		t.Error("IsCancelled = false after cancel")
	}

	// 이미 취소된 대상 재취소 불가
	if hub.Cancel("gen-1") {
		t.Error("Cancel returned true for already-cancelled generation")
	}

	// 완료된 대상도 취소 불가
	hub.Begin("gen-2", "user-1")
	hub.Complete("gen-2", nil)
	if hub.Cancel("gen-2") {
		t.Error("Cancel returned true for completed generation")
	}
}

func TestActiveFor(t *testing.T) {
	hub := NewHub()

	if _, ok := hub.ActiveFor("user-1"); ok {
		t.Error("ActiveFor found tracker in empty hub")
	}

	hub.Begin("gen-1", "user-1")
	hub.Begin("gen-2", "user-2")

	tracker, ok := hub.ActiveFor("user-1")
	if !ok || tracker.GenerationID != "gen-1" {
		t.Errorf("ActiveFor(user-1) = %+v, %v", tracker, ok)
	}

	// 종료된 tracker는 활성으로 치지 않음
	hub.Complete("gen-1", nil)
	if _, ok := hub.ActiveFor("user-1"); ok {
		t.Error("ActiveFor found completed tracker")
	}
}

func TestHandleWebSocketRequiresGeneration(t *testing.T) {
	hub := NewHub()

	req := httptest.NewRequest("GET", "/ws/progress", nil)
	rec := httptest.NewRecorder()
	hub.HandleWebSocket(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWebSocketReceivesProgress(t *testing.T) {
	hub := NewHub()
	hub.Begin("gen-ws", "user-1")
	hub.Update("gen-ws", 20, "Analyzing style and product")

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?generation=gen-ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// 구독 직후 현재 상태가 즉시 push됨
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if msg.GenerationID != "gen-ws" || msg.Percent != 20 || msg.State != StateRunning {
		t.Errorf("initial message = %+v", msg)
	}

	// 이후 변경도 push됨
	hub.Update("gen-ws", 55, "Generating image 1 of 3")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if msg.Percent != 55 {
		t.Errorf("pushed percent = %d, want 55", msg.Percent)
	}
}
