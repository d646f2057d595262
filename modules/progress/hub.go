package progress

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"stylio-studio-server/modules/common/model"
)

// Tracker 상태
const (
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// 개발용 - 모든 origin 허용
		// 프로덕션에서는 특정 도메인만 허용하도록 수정
		return true
	},
}

// Message - 진행 상황 브로드캐스트 메시지
type Message struct {
	Type         string                   `json:"type"`
	GenerationID string                   `json:"generationId"`
	Percent      int                      `json:"percent"`
	Step         string                   `json:"step"`
	State        string                   `json:"state"`
	Images       []model.GeneratedVariant `json:"images,omitempty"`
	ErrorMessage string                   `json:"errorMessage,omitempty"`
}

// subscriber - 연결된 클라이언트
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Tracker - Generation 하나의 로컬 진행 상태
// 진행률은 추정치 - 서버에 진행 컬럼이 없으므로 단계 상수로만 표시됨
type Tracker struct {
	GenerationID string
	UserID       string
	Percent      int
	Step         string
	State        string
	Images       []model.GeneratedVariant
	ErrorMessage string
	UpdatedAt    time.Time
}

// Hub - Generation별 Tracker + WebSocket 구독자 관리
type Hub struct {
	mu          sync.RWMutex
	trackers    map[string]*Tracker
	subscribers map[string]map[*subscriber]struct{}
}

// NewHub - Hub 생성 및 정리 루틴 시작
func NewHub() *Hub {
	h := &Hub{
		trackers:    make(map[string]*Tracker),
		subscribers: make(map[string]map[*subscriber]struct{}),
	}
	h.startCleanupRoutine()
	return h
}

// Begin - 새 Generation 추적 시작
func (h *Hub) Begin(generationID, userID string) {
	h.mu.Lock()
	h.trackers[generationID] = &Tracker{
		GenerationID: generationID,
		UserID:       userID,
		Percent:      0,
		Step:         "Starting",
		State:        StateRunning,
		UpdatedAt:    time.Now(),
	}
	h.mu.Unlock()

	h.broadcast(generationID)
}

// Update - 진행률/단계 라벨 갱신
func (h *Hub) Update(generationID string, percent int, step string) {
	h.mu.Lock()
	tracker, exists := h.trackers[generationID]
	if !exists || tracker.State != StateRunning {
		h.mu.Unlock()
		return
	}
	tracker.Percent = percent
	tracker.Step = step
	tracker.UpdatedAt = time.Now()
	h.mu.Unlock()

	h.broadcast(generationID)
}

// Complete - 완료 처리 (진행률 100%)
func (h *Hub) Complete(generationID string, images []model.GeneratedVariant) {
	h.mu.Lock()
	tracker, exists := h.trackers[generationID]
	if !exists {
		h.mu.Unlock()
		return
	}
	tracker.Percent = 100
	tracker.Step = "Completed"
	tracker.State = StateCompleted
	tracker.Images = images
	tracker.UpdatedAt = time.Now()
	h.mu.Unlock()

	h.broadcast(generationID)
}

// Fail - 실패 처리
func (h *Hub) Fail(generationID string, errorMessage string) {
	h.mu.Lock()
	tracker, exists := h.trackers[generationID]
	if !exists {
		h.mu.Unlock()
		return
	}
	tracker.Step = "Failed"
	tracker.State = StateFailed
	tracker.ErrorMessage = errorMessage
	tracker.UpdatedAt = time.Now()
	h.mu.Unlock()

	h.broadcast(generationID)
}

// Cancel - 로컬 상태만 취소로 전환
// 원격 cancel RPC는 존재하지 않음 - 원격 Generation은 진행 중인 상태 그대로 계속됨
func (h *Hub) Cancel(generationID string) bool {
	h.mu.Lock()
	tracker, exists := h.trackers[generationID]
	if !exists || tracker.State != StateRunning {
		h.mu.Unlock()
		return false
	}
	tracker.Percent = 0
	tracker.Step = "Cancelled"
	tracker.State = StateCancelled
	tracker.UpdatedAt = time.Now()
	h.mu.Unlock()

	log.Printf("🛑 Generation %s cancelled locally (remote job continues)", generationID)
	h.broadcast(generationID)
	return true
}

// IsCancelled - 로컬 취소 여부 (복구 폴링 중단 판단용)
func (h *Hub) IsCancelled(generationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	tracker, exists := h.trackers[generationID]
	return exists && tracker.State == StateCancelled
}

// Snapshot - Tracker 현재 상태 복사본
func (h *Hub) Snapshot(generationID string) (Tracker, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	tracker, exists := h.trackers[generationID]
	if !exists {
		return Tracker{}, false
	}
	return *tracker, true
}

// ActiveFor - 사용자의 실행 중 Tracker 조회 (복구 중복 방지)
func (h *Hub) ActiveFor(userID string) (Tracker, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, tracker := range h.trackers {
		if tracker.UserID == userID && tracker.State == StateRunning {
			return *tracker, true
		}
	}
	return Tracker{}, false
}

// HandleWebSocket - GET /ws/progress?generation=<id>
// 구독 직후 현재 상태를 즉시 1회 전송하고 이후 변경마다 push
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	generationID := r.URL.Query().Get("generation")
	if generationID == "" {
		http.Error(w, "generation parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, 16),
	}

	h.mu.Lock()
	if h.subscribers[generationID] == nil {
		h.subscribers[generationID] = make(map[*subscriber]struct{})
	}
	h.subscribers[generationID][sub] = struct{}{}
	h.mu.Unlock()

	log.Printf("🔍 Progress subscriber connected - Generation: %s", generationID)

	go sub.writePump()
	go h.readPump(generationID, sub)

	// 현재 상태 즉시 전송
	h.broadcast(generationID)
}

// readPump - 연결 유지 및 종료 감지 (클라이언트 메시지는 무시)
func (h *Hub) readPump(generationID string, sub *subscriber) {
	defer func() {
		h.removeSubscriber(generationID, sub)
		sub.conn.Close()
	}()

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}

// writePump - 구독자에게 메시지 전송
func (s *subscriber) writePump() {
	defer s.conn.Close()

	for message := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("WebSocket write error: %v", err)
			return
		}
	}
	s.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// removeSubscriber - 구독자 제거
func (h *Hub) removeSubscriber(generationID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, exists := h.subscribers[generationID]; exists {
		if _, ok := subs[sub]; ok {
			close(sub.send)
			delete(subs, sub)
		}
		if len(subs) == 0 {
			delete(h.subscribers, generationID)
		}
	}
}

// broadcast - 해당 Generation의 모든 구독자에게 현재 상태 전송
func (h *Hub) broadcast(generationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tracker, exists := h.trackers[generationID]
	if !exists {
		return
	}

	message := Message{
		Type:         "progress_update",
		GenerationID: tracker.GenerationID,
		Percent:      tracker.Percent,
		Step:         tracker.Step,
		State:        tracker.State,
		Images:       tracker.Images,
		ErrorMessage: tracker.ErrorMessage,
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling progress message: %v", err)
		return
	}

	for sub := range h.subscribers[generationID] {
		select {
		case sub.send <- messageBytes:
		default:
			close(sub.send)
			delete(h.subscribers[generationID], sub)
		}
	}
}

// 종료 상태 Tracker는 2시간 후 정리
func (h *Hub) startCleanupRoutine() {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			h.cleanupStaleTrackers()
		}
	}()
}

// cleanupStaleTrackers - 오래된 종료 상태 Tracker 제거
func (h *Hub) cleanupStaleTrackers() {
	h.mu.Lock()
	defer h.mu.Unlock()

	cleaned := 0
	for id, tracker := range h.trackers {
		if tracker.State != StateRunning && time.Since(tracker.UpdatedAt) > 2*time.Hour {
			delete(h.trackers, id)
			cleaned++
		}
	}

	if cleaned > 0 {
		log.Printf("🧹 Cleaned up %d stale progress trackers", cleaned)
	}
}
