package credit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/supabase-community/supabase-go"
	"stylio-studio-server/modules/common/config"
)

// Store - 크레딧 잔액의 클라이언트 측 단일 소스
// 모든 잔액 변경은 서버 측 원자적 RPC에 위임하고,
// 캐시는 서버가 반환한 값으로만 덮어씀 (로컬 연산 금지)
// 서버 전체에서 하나의 Store를 공유하므로 캐시는 유저별로 분리
type Store struct {
	supabase *supabase.Client

	mu       sync.RWMutex
	balances map[string]*balanceEntry
}

type balanceEntry struct {
	balance   int
	fetchedAt time.Time
}

// ConsumeResult - consume_credits RPC 응답
type ConsumeResult struct {
	Success          bool   `json:"success"`
	RemainingCredits int    `json:"remaining_credits"`
	Error            string `json:"error,omitempty"`
}

// NewStore - Credit Store 생성
func NewStore() *Store {
	cfg := config.GetConfig()

	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		log.Printf("❌ Failed to create Supabase client: %v", err)
		return nil
	}

	return &Store{
		supabase: supabaseClient,
		balances: make(map[string]*balanceEntry),
	}
}

// FetchCredits - 서버에서 잔액을 가져와 캐시를 덮어씀
func (s *Store) FetchCredits(ctx context.Context, userID string) (int, error) {
	var members []struct {
		StylioMemberCredit int `json:"stylio_member_credit"`
	}

	data, _, err := s.supabase.From("stylio_member").
		Select("stylio_member_credit", "", false).
		Eq("stylio_member_id", userID).
		Execute()

	if err != nil {
		return 0, fmt.Errorf("failed to fetch user credits: %w", err)
	}

	if err := json.Unmarshal(data, &members); err != nil {
		return 0, fmt.Errorf("failed to parse member data: %w", err)
	}

	if len(members) == 0 {
		return 0, fmt.Errorf("user not found: %s", userID)
	}

	balance := members[0].StylioMemberCredit
	s.SetBalance(userID, balance)

	log.Printf("💰 Credit balance fetched: %d (user: %s)", balance, userID)
	return balance, nil
}

// CheckAvailable - 해당 유저의 캐시된 잔액과의 순수 비교
// 잔액을 모르면 false (서버 호출 없음)
func (s *Store) CheckAvailable(userID string, n int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.balances[userID]
	if !ok {
		return false
	}
	return entry.balance >= n
}

// Balance - 해당 유저의 캐시된 잔액 조회 (표시용)
func (s *Store) Balance(userID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.balances[userID]
	if !ok {
		return 0, false
	}
	return entry.balance, true
}

// SetBalance - 다른 RPC가 반환한 remaining_credits로 해당 유저 캐시 덮어쓰기
// (create_generation 예약 응답 등)
func (s *Store) SetBalance(userID string, balance int) {
	s.mu.Lock()
	s.balances[userID] = &balanceEntry{balance: balance, fetchedAt: time.Now()}
	s.mu.Unlock()
}

// ConsumeCredits - 원자적 차감 RPC
// 성공 시 서버가 반환한 잔액으로 캐시 덮어씀, 실패 시 캐시 그대로 두고 에러 전파
func (s *Store) ConsumeCredits(ctx context.Context, userID string, n int, generationID string) (int, error) {
	log.Printf("💰 Consuming credits: user=%s, amount=%d, generation=%s", userID, n, generationID)

	raw := s.supabase.Rpc("consume_credits", "", map[string]interface{}{
		"p_user_id":       userID,
		"p_variant_count": n,
		"p_generation_id": generationID,
	})
	if raw == "" {
		return 0, fmt.Errorf("consume_credits RPC returned empty response")
	}

	var result ConsumeResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return 0, fmt.Errorf("failed to parse consume_credits response: %w", err)
	}

	if !result.Success {
		return 0, fmt.Errorf("consume_credits rejected: %s", result.Error)
	}

	s.SetBalance(userID, result.RemainingCredits)
	log.Printf("✅ Credits consumed: -%d (remaining: %d)", n, result.RemainingCredits)
	return result.RemainingCredits, nil
}

// RefundCredits - 원자적 환불 RPC
// 성공 시 환불 응답 자체의 잔액은 신뢰하지 않고 FetchCredits로 재동기화
func (s *Store) RefundCredits(ctx context.Context, userID string, amount int, generationID string) error {
	log.Printf("💰 Refunding credits: user=%s, amount=%d, generation=%s", userID, amount, generationID)

	raw := s.supabase.Rpc("refund_credits", "", map[string]interface{}{
		"p_user_id":       userID,
		"p_amount":        amount,
		"p_generation_id": generationID,
	})
	if raw == "" {
		return fmt.Errorf("refund_credits RPC returned empty response")
	}

	var result struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return fmt.Errorf("failed to parse refund_credits response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("refund_credits rejected for generation %s", generationID)
	}

	// 환불 후 권위 있는 잔액으로 재동기화
	if _, err := s.FetchCredits(ctx, userID); err != nil {
		log.Printf("⚠️  Failed to resync balance after refund: %v", err)
	}

	log.Printf("✅ Credits refunded: +%d (user: %s)", amount, userID)
	return nil
}

// CreditsIfFresh - 5분 이내 캐시는 그대로 쓰고, 오래됐으면 재조회
// UI 표시 전용 - 차감 직전 게이트에는 절대 사용하지 않음
func (s *Store) CreditsIfFresh(ctx context.Context, userID string) (int, error) {
	cfg := config.GetConfig()

	s.mu.RLock()
	entry, ok := s.balances[userID]
	fresh := ok && time.Since(entry.fetchedAt) < cfg.BalanceStaleness
	var balance int
	if ok {
		balance = entry.balance
	}
	s.mu.RUnlock()

	if fresh {
		return balance, nil
	}
	return s.FetchCredits(ctx, userID)
}
