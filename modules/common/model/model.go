package model

import "time"

// Generation - stylio_generations 테이블 구조
type Generation struct {
	GenerationID      string                 `json:"generation_id"`
	UserID            string                 `json:"user_id"`
	Status            string                 `json:"status"`
	VariantCount      int                    `json:"variant_count"`
	ProductImageURL   string                 `json:"product_image_url"`
	StyleReferenceID  *string                `json:"style_reference_id"`
	StyleReferenceURL string                 `json:"style_reference_url"`
	InputData         map[string]interface{} `json:"input_data"`
	GeneratedImages   []string               `json:"generated_images"`
	StyleAnalysis     map[string]interface{} `json:"style_analysis"`
	ProductAnalysis   map[string]interface{} `json:"product_analysis"`
	ErrorMessage      *string                `json:"error_message"`
	CreatedAt         time.Time              `json:"created_at"`
	CompletedAt       *time.Time             `json:"completed_at"`
}

// StyleAnalysis - 스타일 레퍼런스 분석 결과 (고정 JSON 스키마)
type StyleAnalysis struct {
	Lighting     string   `json:"lighting"`
	Background   string   `json:"background"`
	ColorPalette []string `json:"color_palette"`
	Composition  string   `json:"composition"`
	Mood         string   `json:"mood"`
	Props        []string `json:"props"`
	KeyElements  []string `json:"key_elements"`
}

// ProductAnalysis - 제품 이미지 분석 결과 (고정 JSON 스키마)
type ProductAnalysis struct {
	ProductType string   `json:"product_type"`
	KeyFeatures []string `json:"key_features"`
	Colors      []string `json:"colors"`
	Background  string   `json:"background"`
}

// GeneratedVariant - 생성 완료된 variant 하나
type GeneratedVariant struct {
	URL           string    `json:"url"`
	RevisedPrompt string    `json:"revisedPrompt,omitempty"`
	Index         int       `json:"index"`
	GenerationID  string    `json:"generationId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// 생성 레코드는 생성 즉시 processing - pending 단계 없음
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// IsTerminal - 종료 상태 여부
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}
