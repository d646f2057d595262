package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"stylio-studio-server/modules/common/config"
	"stylio-studio-server/modules/common/model"
)

type Client struct {
	supabase *supabase.Client
}

// CreateGenerationParams - create_generation RPC 파라미터
type CreateGenerationParams struct {
	UserID            string                 `json:"user_id"`
	ProductImageURL   string                 `json:"product_image_url"`
	StyleReferenceID  *string                `json:"style_reference_id"`
	StyleReferenceURL string                 `json:"style_reference_url"`
	VariantCount      int                    `json:"variant_count"`
	InputData         map[string]interface{} `json:"input_data"`
}

// CreateGenerationResult - create_generation RPC 응답
// 레코드 생성 + 크레딧 차감이 서버 측에서 원자적으로 수행됨
type CreateGenerationResult struct {
	Success          bool   `json:"success"`
	GenerationID     string `json:"generation_id"`
	RemainingCredits int    `json:"remaining_credits"`
	Error            string `json:"error,omitempty"`
}

// FailGenerationResult - fail_generation RPC 응답
type FailGenerationResult struct {
	Success  bool `json:"success"`
	Refunded bool `json:"refunded"`
}

// NewClient - Database 클라이언트 생성
func NewClient() *Client {
	cfg := config.GetConfig()

	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		log.Printf("❌ Failed to create Supabase client: %v", err)
		return nil
	}

	return &Client{
		supabase: supabaseClient,
	}
}

// CreateGeneration - 예약: 레코드 생성 + variant 수만큼 크레딧 차감 (원자적)
// 실패 시 아무것도 차감되지 않으므로 환불이 필요 없음
func (c *Client) CreateGeneration(ctx context.Context, params CreateGenerationParams) (*CreateGenerationResult, error) {
	log.Printf("💾 Reserving generation: user=%s, variants=%d", params.UserID, params.VariantCount)

	raw := c.supabase.Rpc("create_generation", "", map[string]interface{}{
		"p_user_id":             params.UserID,
		"p_product_image_url":   params.ProductImageURL,
		"p_style_reference_id":  params.StyleReferenceID,
		"p_style_reference_url": params.StyleReferenceURL,
		"p_variant_count":       params.VariantCount,
		"p_input_data":          params.InputData,
	})
	if raw == "" {
		return nil, fmt.Errorf("create_generation RPC returned empty response")
	}

	var result CreateGenerationResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to parse create_generation response: %w", err)
	}

	if !result.Success {
		// 서버가 거절 (예: 잔액 레이스) - 메시지 그대로 전달
		return nil, fmt.Errorf("reservation rejected: %s", result.Error)
	}

	log.Printf("✅ Generation reserved: %s (remaining credits: %d)", result.GenerationID, result.RemainingCredits)
	return &result, nil
}

// CompleteGeneration - 생성 완료 처리 (종료 상태)
func (c *Client) CompleteGeneration(ctx context.Context, generationID string, imageURLs []string) error {
	log.Printf("📝 Completing generation %s with %d images", generationID, len(imageURLs))

	raw := c.supabase.Rpc("complete_generation", "", map[string]interface{}{
		"p_generation_id":    generationID,
		"p_generated_images": imageURLs,
	})
	if raw == "" {
		return fmt.Errorf("complete_generation RPC returned empty response")
	}

	var result struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return fmt.Errorf("failed to parse complete_generation response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("complete_generation rejected for %s", generationID)
	}

	log.Printf("✅ Generation %s completed", generationID)
	return nil
}

// FailGeneration - 생성 실패 처리 (종료 상태)
// 예약된 크레딧 환불은 서버 측 RPC가 원자적으로 수행함
func (c *Client) FailGeneration(ctx context.Context, generationID string, errorMessage string) (*FailGenerationResult, error) {
	log.Printf("📝 Failing generation %s: %s", generationID, errorMessage)

	raw := c.supabase.Rpc("fail_generation", "", map[string]interface{}{
		"p_generation_id": generationID,
		"p_error_message": errorMessage,
	})
	if raw == "" {
		return nil, fmt.Errorf("fail_generation RPC returned empty response")
	}

	var result FailGenerationResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to parse fail_generation response: %w", err)
	}

	log.Printf("✅ Generation %s marked failed (refunded: %v)", generationID, result.Refunded)
	return &result, nil
}

// SaveAnalyses - 완료 경로에서 분석 메타데이터 저장 (직접 업데이트)
// 실패해도 전체 작업을 실패시키지 않음 - 호출부에서 경고 로그만 남김
func (c *Client) SaveAnalyses(ctx context.Context, generationID string, imageURLs []string, styleAnalysis, productAnalysis map[string]interface{}) error {
	updateData := map[string]interface{}{
		"generated_images": imageURLs,
		"style_analysis":   styleAnalysis,
		"product_analysis": productAnalysis,
	}

	_, _, err := c.supabase.From("stylio_generations").
		Update(updateData, "", "").
		Eq("generation_id", generationID).
		Execute()

	if err != nil {
		return fmt.Errorf("failed to save analyses: %w", err)
	}

	log.Printf("✅ Analyses saved for generation %s", generationID)
	return nil
}

// FetchGeneration - Generation 레코드 조회
func (c *Client) FetchGeneration(ctx context.Context, generationID string) (*model.Generation, error) {
	log.Printf("🔍 Fetching generation: %s", generationID)

	var generations []model.Generation

	data, _, err := c.supabase.From("stylio_generations").
		Select("*", "exact", false).
		Eq("generation_id", generationID).
		Execute()

	if err != nil {
		return nil, fmt.Errorf("failed to query stylio_generations: %w", err)
	}

	if err := json.Unmarshal(data, &generations); err != nil {
		return nil, fmt.Errorf("failed to parse generation response: %w", err)
	}

	if len(generations) == 0 {
		return nil, fmt.Errorf("generation not found: %s", generationID)
	}

	gen := &generations[0]
	log.Printf("✅ Generation fetched: %s (status: %s, variants: %d)",
		gen.GenerationID, gen.Status, gen.VariantCount)

	return gen, nil
}

// FetchActiveGeneration - 복구 대상 조회
// status='processing'이고 1시간 이내에 생성된 가장 최근 레코드 1건
// 더 오래된 stuck 레코드는 조용히 무시됨
func (c *Client) FetchActiveGeneration(ctx context.Context, userID string) (*model.Generation, error) {
	cfg := config.GetConfig()
	cutoff := time.Now().UTC().Add(-cfg.RecoveryLookback).Format(time.RFC3339)

	var generations []model.Generation

	data, _, err := c.supabase.From("stylio_generations").
		Select("*", "", false).
		Eq("user_id", userID).
		Eq("status", model.StatusProcessing).
		Gte("created_at", cutoff).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(1, "").
		Execute()

	if err != nil {
		return nil, fmt.Errorf("failed to query active generation: %w", err)
	}

	if err := json.Unmarshal(data, &generations); err != nil {
		return nil, fmt.Errorf("failed to parse active generation response: %w", err)
	}

	if len(generations) == 0 {
		return nil, nil // 복구 대상 없음
	}

	gen := &generations[0]
	log.Printf("🔄 Active generation found: %s (created: %s)", gen.GenerationID, gen.CreatedAt.Format(time.RFC3339))
	return gen, nil
}
