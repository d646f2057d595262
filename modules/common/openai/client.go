package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"stylio-studio-server/modules/common/config"
	"stylio-studio-server/modules/common/model"
)

// ErrTimedOut - 타임아웃으로 실패한 원격 호출
// 일반 네트워크 에러와 구분해서 표면화하고, 자동 재시도하지 않음
var ErrTimedOut = errors.New("remote call timed out")

// ErrRateLimited - 429 응답 (Gemini fallback 트리거)
var ErrRateLimited = errors.New("rate limited")

type Client struct {
	api        *openai.Client
	chatModel  string
	imageModel string
}

// GeneratedImage - 이미지 생성 호출 결과
type GeneratedImage struct {
	URL           string
	RevisedPrompt string
}

const styleAnalysisInstruction = `Analyze the visual style of this reference image for product photography.
Respond with ONLY a JSON object, no prose, matching exactly this schema:
{"lighting": string, "background": string, "color_palette": [string], "composition": string, "mood": string, "props": [string], "key_elements": [string]}`

const productAnalysisInstruction = `Analyze the product in this photo.
Respond with ONLY a JSON object, no prose, matching exactly this schema:
{"product_type": string, "key_features": [string], "colors": [string], "background": string}`

// NewClient - OpenAI 클라이언트 생성
func NewClient() *Client {
	cfg := config.GetConfig()
	return NewClientWithBaseURL(cfg.OpenAIAPIKey, "", cfg.OpenAIChatModel, cfg.OpenAIImageModel)
}

// NewClientWithBaseURL - BaseURL 지정 생성 (테스트용 httptest 서버 지원)
func NewClientWithBaseURL(apiKey, baseURL, chatModel, imageModel string) *Client {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	return &Client{
		api:        openai.NewClientWithConfig(clientConfig),
		chatModel:  chatModel,
		imageModel: imageModel,
	}
}

// AnalyzeStyle - 스타일 레퍼런스 이미지 분석 (30초 타임아웃)
// 실패는 전체 작업에 치명적 - 타깃 미학 없이 스타일 전이는 불가능함
func (c *Client) AnalyzeStyle(ctx context.Context, imageURL string, hint string) (*model.StyleAnalysis, error) {
	instruction := styleAnalysisInstruction
	if hint != "" {
		instruction += "\n\nAdditional context from the user: " + hint
	}

	raw, err := c.analyzeImage(ctx, imageURL, instruction)
	if err != nil {
		return nil, fmt.Errorf("style analysis failed: %w", err)
	}

	var analysis model.StyleAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, fmt.Errorf("style analysis returned malformed JSON: %w", err)
	}

	log.Printf("✅ Style analysis completed: mood=%s, lighting=%s", analysis.Mood, analysis.Lighting)
	return &analysis, nil
}

// AnalyzeProduct - 제품 이미지 분석 (30초 타임아웃)
// 실패해도 전체 작업은 진행됨 - 일반적인 제품 설명으로 degrade
func (c *Client) AnalyzeProduct(ctx context.Context, imageURL string, hint string) (*model.ProductAnalysis, error) {
	instruction := productAnalysisInstruction
	if hint != "" {
		instruction += "\n\nAdditional context from the user: " + hint
	}

	raw, err := c.analyzeImage(ctx, imageURL, instruction)
	if err != nil {
		return nil, fmt.Errorf("product analysis failed: %w", err)
	}

	var analysis model.ProductAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, fmt.Errorf("product analysis returned malformed JSON: %w", err)
	}

	log.Printf("✅ Product analysis completed: type=%s", analysis.ProductType)
	return &analysis, nil
}

// analyzeImage - Vision Chat 호출 후 응답 텍스트에서 JSON 추출
func (c *Client) analyzeImage(ctx context.Context, imageURL string, instruction string) (string, error) {
	cfg := config.GetConfig()

	callCtx, cancel := context.WithTimeout(ctx, cfg.AnalysisTimeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: instruction,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	}

	resp, err := CreateChatCompletionWithRetry(callCtx, c.api, req)
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in analysis response")
	}

	content := resp.Choices[0].Message.Content
	extracted, err := ExtractJSON(content)
	if err != nil {
		return "", fmt.Errorf("failed to extract JSON from analysis response: %w", err)
	}

	return extracted, nil
}

// GenerateImage - 프롬프트 하나로 이미지 1장 생성 (60초 타임아웃)
// 고정 사이즈 1024x1024, quality 플래그 low→standard / 그 외→hd, n=1
func (c *Client) GenerateImage(ctx context.Context, prompt string, quality string) (*GeneratedImage, error) {
	cfg := config.GetConfig()

	callCtx, cancel := context.WithTimeout(ctx, cfg.GenerationTimeout)
	defer cancel()

	imageQuality := openai.CreateImageQualityHD
	if quality == "low" {
		imageQuality = openai.CreateImageQualityStandard
	}

	req := openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.imageModel,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		Quality:        imageQuality,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	}

	log.Printf("🎨 Calling image API (model: %s, quality: %s, prompt length: %d)", c.imageModel, imageQuality, len(prompt))

	resp, err := CreateImageWithRetry(callCtx, c.api, req)
	if err != nil {
		return nil, classifyError(err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no image data in response")
	}
	if resp.Data[0].URL == "" {
		return nil, fmt.Errorf("empty image URL in response")
	}

	log.Printf("✅ Image generated: %s", resp.Data[0].URL)
	return &GeneratedImage{
		URL:           resp.Data[0].URL,
		RevisedPrompt: resp.Data[0].RevisedPrompt,
	}, nil
}

// classifyError - 원격 호출 에러 분류
// 타임아웃은 ErrTimedOut으로, 429는 ErrRateLimited로 구분해서 래핑
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimedOut, err)
	}
	if isRateLimitError(err) {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return err
}

// ExtractJSON - 텍스트 응답에서 JSON 본문 추출
// 모델이 ```json 펜스나 설명 프리픽스를 붙여 보내는 경우가 있음
func ExtractJSON(text string) (string, error) {
	trimmed := strings.TrimSpace(text)

	// 코드 펜스 제거
	if idx := strings.Index(trimmed, "```"); idx >= 0 {
		rest := trimmed[idx+3:]
		// "json" 언어 태그 스킵
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		trimmed = strings.TrimSpace(rest)
	}

	// 첫 '{' 부터 마지막 '}' 까지
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object found in response text")
	}

	candidate := trimmed[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", fmt.Errorf("extracted text is not valid JSON")
	}

	return candidate, nil
}
