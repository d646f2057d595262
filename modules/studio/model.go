package studio

import (
	"errors"

	"stylio-studio-server/modules/common/model"
)

// 에러 코드 (클라이언트 분기용)
const (
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeImageRequired       = "IMAGE_REQUIRED"
	ErrCodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	ErrCodeReservationFailed   = "RESERVATION_FAILED"
	ErrCodeGenerationFailed    = "GENERATION_FAILED"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)

// 전제조건 에러 - 어떤 원격 변경도 일어나기 전에 거절됨
var (
	ErrNotAuthenticated       = errors.New("not authenticated")
	ErrNoProductImage         = errors.New("product image is required")
	ErrInsufficientCredits    = errors.New("insufficient credits")
	ErrInvalidStyleReference  = errors.New("style reference is required")
	ErrInvalidVariantCount    = errors.New("variant count must be at least 1")
)

// ImageSource - URL 또는 인라인 바이너리로 주어지는 입력 이미지
type ImageSource struct {
	URL  string
	Data []byte
	Name string
}

// IsEmpty - 입력 이미지 존재 여부
func (s ImageSource) IsEmpty() bool {
	return s.URL == "" && len(s.Data) == 0
}

// StyleReference - 스타일 레퍼런스의 tagged variant
// 라이브러리 스타일(URL) 또는 커스텀 업로드(바이너리) - 워크플로우 시작 시점에
// 한 번만 균일한 분석 가능 URL로 resolve됨
type StyleReference struct {
	Library *LibraryStyle
	Custom  *CustomStyle
}

// LibraryStyle - 큐레이션된 라이브러리 스타일
type LibraryStyle struct {
	ID  string
	URL string
}

// CustomStyle - 사용자가 업로드한 스타일 레퍼런스
type CustomStyle struct {
	Data []byte
	Name string
}

// IsEmpty - 스타일 레퍼런스 존재 여부
func (r StyleReference) IsEmpty() bool {
	if r.Library != nil && r.Library.URL != "" {
		return false
	}
	if r.Custom != nil && len(r.Custom.Data) > 0 {
		return false
	}
	return true
}

// GenerateOptions - Generate 입력
type GenerateOptions struct {
	UserID             string
	ProductImage       ImageSource
	StyleReference     StyleReference
	VariantCount       int
	AspectRatio        string
	Quality            string
	StyleDescription   string
	ProductDescription string
}

// GenerationResult - Generate 성공 결과
type GenerationResult struct {
	GenerationID   string
	Images         []model.GeneratedVariant
	CreditsCharged int
}

// GenerateRequest - POST /api/studio/generate 요청
type GenerateRequest struct {
	ProductImageURL    string `json:"productImageUrl,omitempty"`
	ProductImageBase64 string `json:"productImageBase64,omitempty"`
	ProductImageName   string `json:"productImageName,omitempty"`

	// 라이브러리 스타일 (URL) 또는 커스텀 업로드 (Base64) - 둘 중 하나
	StyleReferenceID  string `json:"styleReferenceId,omitempty"`
	StyleReferenceURL string `json:"styleReferenceUrl,omitempty"`
	CustomStyleBase64 string `json:"customStyleBase64,omitempty"`
	CustomStyleName   string `json:"customStyleName,omitempty"`

	VariantCount       int    `json:"variantCount"`
	AspectRatio        string `json:"aspectRatio,omitempty"`
	Quality            string `json:"quality,omitempty"`
	StyleDescription   string `json:"styleDescription,omitempty"`
	ProductDescription string `json:"productDescription,omitempty"`
}

// GenerateResponse - 생성 요청 응답
type GenerateResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`

	GenerationID string                   `json:"generationId,omitempty"`
	Images       []model.GeneratedVariant `json:"images,omitempty"`

	// 크레딧 정보
	CreditsUsed      int `json:"creditsUsed,omitempty"`
	CreditsRemaining int `json:"creditsRemaining,omitempty"`

	// 비동기 모드 전용
	QueuePosition int64 `json:"queuePosition,omitempty"`
}

// RecoveryResponse - GET /api/studio/active 응답
type RecoveryResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`

	Found        bool                     `json:"found"`
	GenerationID string                   `json:"generationId,omitempty"`
	Status       string                   `json:"status,omitempty"`
	Percent      int                      `json:"percent,omitempty"`
	Images       []model.GeneratedVariant `json:"images,omitempty"`
}

// CreditsResponse - GET /api/studio/credits 응답
type CreditsResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	Credits      int    `json:"credits"`
}
