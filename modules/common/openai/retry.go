package openai

import (
	"context"
	"log"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// 429 에러만 재시도 - 타임아웃/일반 에러는 즉시 반환 (자동 재시도 없음)
const maxRetries = 3

// CreateChatCompletionWithRetry - 429 에러 시 재시도하는 Chat 호출 헬퍼
func CreateChatCompletionWithRetry(ctx context.Context, api *openai.Client, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var lastResp openai.ChatCompletionResponse
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			log.Printf("   🔄 Chat retry attempt %d/%d", attempt, maxRetries)
		}

		lastResp, lastErr = api.CreateChatCompletion(ctx, req)
		if lastErr == nil {
			return lastResp, nil
		}

		// 429가 아닌 에러면 바로 반환 (재시도 안 함)
		if !isRateLimitError(lastErr) {
			return lastResp, lastErr
		}

		log.Printf("⚠️  Chat call hit rate limit (429) on attempt %d/%d", attempt, maxRetries)

		if attempt < maxRetries {
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return lastResp, ctx.Err()
			}
		}
	}

	return lastResp, lastErr
}

// CreateImageWithRetry - 429 에러 시 재시도하는 이미지 생성 헬퍼
func CreateImageWithRetry(ctx context.Context, api *openai.Client, req openai.ImageRequest) (openai.ImageResponse, error) {
	var lastResp openai.ImageResponse
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			log.Printf("   🔄 Image retry attempt %d/%d", attempt, maxRetries)
		}

		lastResp, lastErr = api.CreateImage(ctx, req)
		if lastErr == nil {
			return lastResp, nil
		}

		if !isRateLimitError(lastErr) {
			return lastResp, lastErr
		}

		log.Printf("⚠️  Image call hit rate limit (429) on attempt %d/%d", attempt, maxRetries)

		if attempt < maxRetries {
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return lastResp, ctx.Err()
			}
		}
	}

	return lastResp, lastErr
}

// isRateLimitError - 429 Rate Limit 에러인지 확인
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(strings.ToLower(errStr), "rate limit") ||
		strings.Contains(strings.ToLower(errStr), "quota")
}
