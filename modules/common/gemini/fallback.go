package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"stylio-studio-server/modules/common/config"
	"stylio-studio-server/modules/common/model"
	openaiclient "stylio-studio-server/modules/common/openai"
)

// Analyzer - OpenAI 분석이 rate limit으로 실패했을 때 한 번 더 시도하는 Gemini fallback
// GEMINI_API_KEY가 없으면 비활성화됨
type Analyzer struct {
	client    *genai.Client
	modelName string
}

// NewAnalyzer - Gemini fallback 분석기 생성 (키 없으면 nil)
func NewAnalyzer(ctx context.Context) *Analyzer {
	cfg := config.GetConfig()
	if cfg.GeminiAPIKey == "" {
		log.Println("⚠️  GEMINI_API_KEY not set, analysis fallback disabled")
		return nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		log.Printf("❌ Failed to create Gemini client: %v", err)
		return nil
	}

	log.Printf("✅ Gemini fallback analyzer initialized (model: %s)", cfg.GeminiModel)
	return &Analyzer{
		client:    client,
		modelName: cfg.GeminiModel,
	}
}

// AnalyzeStyle - 스타일 레퍼런스 분석 fallback
func (a *Analyzer) AnalyzeStyle(ctx context.Context, imageData []byte, hint string) (*model.StyleAnalysis, error) {
	instruction := `Analyze the visual style of this reference image for product photography.
Respond with ONLY a JSON object, no prose, matching exactly this schema:
{"lighting": string, "background": string, "color_palette": [string], "composition": string, "mood": string, "props": [string], "key_elements": [string]}`
	if hint != "" {
		instruction += "\n\nAdditional context from the user: " + hint
	}

	raw, err := a.analyze(ctx, imageData, instruction)
	if err != nil {
		return nil, fmt.Errorf("gemini style analysis failed: %w", err)
	}

	var analysis model.StyleAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, fmt.Errorf("gemini style analysis returned malformed JSON: %w", err)
	}

	log.Printf("✅ [Fallback] Style analysis completed via Gemini")
	return &analysis, nil
}

// AnalyzeProduct - 제품 이미지 분석 fallback
func (a *Analyzer) AnalyzeProduct(ctx context.Context, imageData []byte, hint string) (*model.ProductAnalysis, error) {
	instruction := `Analyze the product in this photo.
Respond with ONLY a JSON object, no prose, matching exactly this schema:
{"product_type": string, "key_features": [string], "colors": [string], "background": string}`
	if hint != "" {
		instruction += "\n\nAdditional context from the user: " + hint
	}

	raw, err := a.analyze(ctx, imageData, instruction)
	if err != nil {
		return nil, fmt.Errorf("gemini product analysis failed: %w", err)
	}

	var analysis model.ProductAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, fmt.Errorf("gemini product analysis returned malformed JSON: %w", err)
	}

	log.Printf("✅ [Fallback] Product analysis completed via Gemini")
	return &analysis, nil
}

// analyze - Gemini Vision 호출 후 텍스트에서 JSON 추출
func (a *Analyzer) analyze(ctx context.Context, imageData []byte, instruction string) (string, error) {
	cfg := config.GetConfig()

	callCtx, cancel := context.WithTimeout(ctx, cfg.AnalysisTimeout)
	defer cancel()

	gm := a.client.GenerativeModel(a.modelName)

	resp, err := gm.GenerateContent(callCtx,
		genai.Text(instruction),
		genai.ImageData(imageFormat(imageData), imageData),
	)
	if err != nil {
		return "", fmt.Errorf("gemini API call failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates in gemini response")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	return openaiclient.ExtractJSON(text.String())
}

// imageFormat - Gemini용 이미지 포맷 문자열 추출 (image/png → png)
func imageFormat(data []byte) string {
	contentType := http.DetectContentType(data)
	if strings.HasPrefix(contentType, "image/") {
		return strings.TrimPrefix(contentType, "image/")
	}
	return "png"
}
