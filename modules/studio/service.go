package studio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"stylio-studio-server/modules/common/database"
	"stylio-studio-server/modules/common/fallback"
	"stylio-studio-server/modules/common/model"
	openaiclient "stylio-studio-server/modules/common/openai"
)

// RecordStore - 생성 레코드 저장소 (Supabase RPC)
type RecordStore interface {
	CreateGeneration(ctx context.Context, params database.CreateGenerationParams) (*database.CreateGenerationResult, error)
	CompleteGeneration(ctx context.Context, generationID string, imageURLs []string) error
	FailGeneration(ctx context.Context, generationID string, errorMessage string) (*database.FailGenerationResult, error)
	SaveAnalyses(ctx context.Context, generationID string, imageURLs []string, styleAnalysis, productAnalysis map[string]interface{}) error
	FetchGeneration(ctx context.Context, generationID string) (*model.Generation, error)
	FetchActiveGeneration(ctx context.Context, userID string) (*model.Generation, error)
}

// Ledger - 크레딧 잔액 관리 (유저별 캐시)
// 로컬 잔액은 항상 서버가 반환한 값으로만 갱신됨
type Ledger interface {
	FetchCredits(ctx context.Context, userID string) (int, error)
	Balance(userID string) (int, bool)
	CheckAvailable(userID string, n int) bool
	SetBalance(userID string, balance int)
	CreditsIfFresh(ctx context.Context, userID string) (int, error)
}

// ImageAPI - 이미지 분석 + 생성 (OpenAI)
type ImageAPI interface {
	AnalyzeStyle(ctx context.Context, imageURL string, hint string) (*model.StyleAnalysis, error)
	AnalyzeProduct(ctx context.Context, imageURL string, hint string) (*model.ProductAnalysis, error)
	GenerateImage(ctx context.Context, prompt string, quality string) (*openaiclient.GeneratedImage, error)
}

// FallbackAnalyzer - rate limit 시 분석 대체 경로 (Gemini). nil 허용
type FallbackAnalyzer interface {
	AnalyzeStyle(ctx context.Context, imageData []byte, hint string) (*model.StyleAnalysis, error)
	AnalyzeProduct(ctx context.Context, imageData []byte, hint string) (*model.ProductAnalysis, error)
}

// Archiver - 이미지 다운로드/영구 저장
// 생성 API가 반환하는 URL은 만료되므로 스토리지에 보관
type Archiver interface {
	DownloadImage(ctx context.Context, imageURL string) ([]byte, error)
	ArchiveGeneratedImage(ctx context.Context, imageData []byte, userID string) (string, error)
	UploadSourceImage(ctx context.Context, imageData []byte, userID string, kind string, originalName string) (string, error)
	RemoveUpload(ctx context.Context, publicURL string) error
}

// ProgressSink - 진행률 브로드캐스트
type ProgressSink interface {
	Begin(generationID, userID string)
	Update(generationID string, percent int, step string)
	Complete(generationID string, images []model.GeneratedVariant)
	Fail(generationID string, errorMessage string)
	IsCancelled(generationID string) bool
}

// Service - 생성 워크플로우 오케스트레이터
type Service struct {
	records  RecordStore
	ledger   Ledger
	api      ImageAPI
	fallback FallbackAnalyzer
	archiver Archiver
	progress ProgressSink
}

// NewService - Service 생성
func NewService(records RecordStore, ledger Ledger, api ImageAPI, fb FallbackAnalyzer, archiver Archiver, progress ProgressSink) *Service {
	return &Service{
		records:  records,
		ledger:   ledger,
		api:      api,
		fallback: fb,
		archiver: archiver,
		progress: progress,
	}
}

// Reservation - 예약 완료된 생성의 실행 입력
type Reservation struct {
	GenerationID       string
	UserID             string
	ProductImageURL    string
	StyleReferenceURL  string
	VariantCount       int
	AspectRatio        string
	Quality            string
	StyleDescription   string
	ProductDescription string
}

// Generate - 동기 생성 워크플로우 전체 실행
// 전제조건 검증 → 예약(레코드+차감 원자적) → 분석(병렬) → 변형 생성(순차) → 완료
func (s *Service) Generate(ctx context.Context, opts GenerateOptions) (*GenerationResult, error) {
	res, _, err := s.Reserve(ctx, opts)
	if err != nil {
		return nil, err
	}

	return s.runReserved(ctx, res)
}

// Reserve - 전제조건 검증 + 입력 이미지 resolve + 예약
// 전제조건 위반은 어떤 원격 변경보다 먼저 거절됨
func (s *Service) Reserve(ctx context.Context, opts GenerateOptions) (*Reservation, int, error) {
	if opts.UserID == "" {
		return nil, 0, ErrNotAuthenticated
	}
	if opts.ProductImage.IsEmpty() {
		return nil, 0, ErrNoProductImage
	}
	if opts.StyleReference.IsEmpty() {
		return nil, 0, ErrInvalidStyleReference
	}
	if opts.VariantCount < 1 {
		return nil, 0, ErrInvalidVariantCount
	}
	// 해당 유저의 잔액을 모르는 상태(서버 재시작 직후 등)에서는 먼저 조회
	// 캐시된 잔액이 부족하면 조회 없이 즉시 거절
	if _, known := s.ledger.Balance(opts.UserID); !known {
		if _, err := s.ledger.FetchCredits(ctx, opts.UserID); err != nil {
			return nil, 0, fmt.Errorf("failed to fetch credit balance: %w", err)
		}
	}
	if !s.ledger.CheckAvailable(opts.UserID, opts.VariantCount) {
		return nil, 0, ErrInsufficientCredits
	}

	// 입력 이미지를 균일한 분석 가능 URL로 resolve (워크플로우 시작 시 1회)
	var uploadedURLs []string
	productURL := opts.ProductImage.URL
	if productURL == "" {
		uploaded, err := s.archiver.UploadSourceImage(ctx, opts.ProductImage.Data, opts.UserID, "product", opts.ProductImage.Name)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to upload product image: %w", err)
		}
		productURL = uploaded
		uploadedURLs = append(uploadedURLs, uploaded)
	}

	var styleRefID *string
	var styleURL string
	if opts.StyleReference.Library != nil {
		styleURL = opts.StyleReference.Library.URL
		if opts.StyleReference.Library.ID != "" {
			id := opts.StyleReference.Library.ID
			styleRefID = &id
		}
	} else {
		uploaded, err := s.archiver.UploadSourceImage(ctx, opts.StyleReference.Custom.Data, opts.UserID, "style", opts.StyleReference.Custom.Name)
		if err != nil {
			s.removeUploads(ctx, uploadedURLs)
			return nil, 0, fmt.Errorf("failed to upload style reference: %w", err)
		}
		styleURL = uploaded
		uploadedURLs = append(uploadedURLs, uploaded)
	}

	result, err := s.records.CreateGeneration(ctx, database.CreateGenerationParams{
		UserID:            opts.UserID,
		ProductImageURL:   productURL,
		StyleReferenceID:  styleRefID,
		StyleReferenceURL: styleURL,
		VariantCount:      opts.VariantCount,
		InputData: map[string]interface{}{
			"aspect_ratio":        fallback.SafeAspectRatio(opts.AspectRatio),
			"quality":             fallback.SafeQuality(opts.Quality),
			"style_description":   opts.StyleDescription,
			"product_description": opts.ProductDescription,
		},
	})
	if err != nil {
		// 예약 실패 시 아무것도 차감되지 않음 - 환불 불필요
		// 거절된 예약의 원본 업로드는 고아가 되므로 정리
		s.removeUploads(ctx, uploadedURLs)
		return nil, 0, fmt.Errorf("reservation failed: %w", err)
	}

	// 서버가 반환한 잔액만 신뢰
	s.ledger.SetBalance(opts.UserID, result.RemainingCredits)

	s.progress.Begin(result.GenerationID, opts.UserID)
	s.progress.Update(result.GenerationID, 10, "Reserved")

	return &Reservation{
		GenerationID:       result.GenerationID,
		UserID:             opts.UserID,
		ProductImageURL:    productURL,
		StyleReferenceURL:  styleURL,
		VariantCount:       opts.VariantCount,
		AspectRatio:        fallback.SafeAspectRatio(opts.AspectRatio),
		Quality:            fallback.SafeQuality(opts.Quality),
		StyleDescription:   opts.StyleDescription,
		ProductDescription: opts.ProductDescription,
	}, result.RemainingCredits, nil
}

// removeUploads - 예약이 성사되지 않은 생성의 원본 업로드 정리
func (s *Service) removeUploads(ctx context.Context, urls []string) {
	for _, u := range urls {
		if err := s.archiver.RemoveUpload(ctx, u); err != nil {
			log.Printf("⚠️  Failed to remove orphaned upload %s: %v", u, err)
		}
	}
}

// RunReservedRecord - 큐 워커용: 이미 예약된 레코드의 잔여 단계 실행
func (s *Service) RunReservedRecord(ctx context.Context, gen *model.Generation) (*GenerationResult, error) {
	if model.IsTerminal(gen.Status) {
		return nil, fmt.Errorf("generation %s already %s", gen.GenerationID, gen.Status)
	}

	s.progress.Begin(gen.GenerationID, gen.UserID)
	s.progress.Update(gen.GenerationID, 10, "Reserved")

	return s.runReserved(ctx, &Reservation{
		GenerationID:       gen.GenerationID,
		UserID:             gen.UserID,
		ProductImageURL:    gen.ProductImageURL,
		StyleReferenceURL:  gen.StyleReferenceURL,
		VariantCount:       fallback.SafeVariantCount(gen.VariantCount, 1),
		AspectRatio:        fallback.SafeAspectRatio(gen.InputData["aspect_ratio"]),
		Quality:            fallback.SafeQuality(gen.InputData["quality"]),
		StyleDescription:   fallback.SafeString(gen.InputData["style_description"], ""),
		ProductDescription: fallback.SafeString(gen.InputData["product_description"], ""),
	})
}

// runReserved - 예약 이후 단계: 분석 → 변형 생성 → 완료/실패
// 실패 시 서버 측에서 차감분 전액 환불됨
func (s *Service) runReserved(ctx context.Context, res *Reservation) (*GenerationResult, error) {
	s.progress.Update(res.GenerationID, 20, "Analyzing style and product")

	style, product, err := s.analyze(ctx, res)
	if err != nil {
		// 스타일 분석 실패는 치명적
		return nil, s.failGeneration(ctx, res, fmt.Errorf("style analysis failed: %w", err))
	}

	s.progress.Update(res.GenerationID, 40, "Composing prompts")

	opts := GenerateOptions{
		StyleDescription:   res.StyleDescription,
		ProductDescription: res.ProductDescription,
	}

	// 변형은 엄격히 순차 생성 - all-or-nothing
	variants := make([]model.GeneratedVariant, 0, res.VariantCount)
	for i := 0; i < res.VariantCount; i++ {
		if s.progress.IsCancelled(res.GenerationID) {
			log.Printf("🛑 Generation %s cancelled locally, stopping before variant %d (no refund)", res.GenerationID, i+1)
			return nil, fmt.Errorf("generation cancelled")
		}

		prompt := BuildGenerationPrompt(style, product, opts, i)

		img, err := s.api.GenerateImage(ctx, prompt, res.Quality)
		if err != nil {
			return nil, s.failGeneration(ctx, res, fmt.Errorf("variant %d of %d failed: %w", i+1, res.VariantCount, err))
		}

		// 생성 API의 URL은 만료되므로 즉시 다운로드 후 스토리지에 보관
		storedURL, err := s.archiveVariant(ctx, res.UserID, img.URL)
		if err != nil {
			return nil, s.failGeneration(ctx, res, fmt.Errorf("failed to archive variant %d: %w", i+1, err))
		}

		variants = append(variants, model.GeneratedVariant{
			URL:           storedURL,
			RevisedPrompt: img.RevisedPrompt,
			Index:         i,
			GenerationID:  res.GenerationID,
			CreatedAt:     time.Now(),
		})

		percent := 40 + (i+1)*50/res.VariantCount
		s.progress.Update(res.GenerationID, percent, fmt.Sprintf("Generated image %d of %d", i+1, res.VariantCount))
	}

	urls := make([]string, len(variants))
	for i, v := range variants {
		urls[i] = v.URL
	}

	// 완료 경로의 영속화 실패는 경고만 - 사용자는 이미지를 받음
	if err := s.records.CompleteGeneration(ctx, res.GenerationID, urls); err != nil {
		log.Printf("⚠️ Failed to mark generation %s completed: %v", res.GenerationID, err)
	}
	if err := s.records.SaveAnalyses(ctx, res.GenerationID, urls, analysisMap(style), productMap(product)); err != nil {
		log.Printf("⚠️ Failed to save analyses for %s: %v", res.GenerationID, err)
	}

	// 서버 기준 잔액으로 재동기화
	if _, err := s.ledger.FetchCredits(ctx, res.UserID); err != nil {
		log.Printf("⚠️ Failed to refresh credits for %s: %v", res.UserID, err)
	}

	s.progress.Complete(res.GenerationID, variants)
	log.Printf("✅ Generation %s completed with %d variants", res.GenerationID, len(variants))

	return &GenerationResult{
		GenerationID:   res.GenerationID,
		Images:         variants,
		CreditsCharged: res.VariantCount,
	}, nil
}

// analyze - 스타일/제품 분석을 병렬로 실행 (정확히 2개 fan-out)
// 제품 분석 실패는 degrade - 스타일 분석 실패만 치명적
func (s *Service) analyze(ctx context.Context, res *Reservation) (*model.StyleAnalysis, *model.ProductAnalysis, error) {
	var (
		wg       sync.WaitGroup
		style    *model.StyleAnalysis
		styleErr error
		product  *model.ProductAnalysis
	)

	wg.Add(2)

	go func() {
		defer wg.Done()
		style, styleErr = s.analyzeStyle(ctx, res.StyleReferenceURL, res.StyleDescription)
	}()

	go func() {
		defer wg.Done()
		p, err := s.analyzeProduct(ctx, res.ProductImageURL, res.ProductDescription)
		if err != nil {
			log.Printf("⚠️ Product analysis degraded for %s: %v", res.GenerationID, err)
			return
		}
		product = p
	}()

	wg.Wait()

	if styleErr != nil {
		return nil, nil, styleErr
	}
	return style, product, nil
}

// analyzeStyle - OpenAI 분석, rate limit 시 Gemini로 fallback
func (s *Service) analyzeStyle(ctx context.Context, imageURL, hint string) (*model.StyleAnalysis, error) {
	style, err := s.api.AnalyzeStyle(ctx, imageURL, hint)
	if err == nil {
		return style, nil
	}

	if s.fallback != nil && errors.Is(err, openaiclient.ErrRateLimited) {
		log.Printf("🔄 Style analysis rate limited, trying fallback analyzer")
		data, dlErr := s.archiver.DownloadImage(ctx, imageURL)
		if dlErr != nil {
			return nil, err
		}
		if fbStyle, fbErr := s.fallback.AnalyzeStyle(ctx, data, hint); fbErr == nil {
			return fbStyle, nil
		}
	}

	return nil, err
}

func (s *Service) analyzeProduct(ctx context.Context, imageURL, hint string) (*model.ProductAnalysis, error) {
	product, err := s.api.AnalyzeProduct(ctx, imageURL, hint)
	if err == nil {
		return product, nil
	}

	if s.fallback != nil && errors.Is(err, openaiclient.ErrRateLimited) {
		log.Printf("🔄 Product analysis rate limited, trying fallback analyzer")
		data, dlErr := s.archiver.DownloadImage(ctx, imageURL)
		if dlErr != nil {
			return nil, err
		}
		if fbProduct, fbErr := s.fallback.AnalyzeProduct(ctx, data, hint); fbErr == nil {
			return fbProduct, nil
		}
	}

	return nil, err
}

// archiveVariant - 생성된 이미지 다운로드 + 영구 저장
func (s *Service) archiveVariant(ctx context.Context, userID, imageURL string) (string, error) {
	data, err := s.archiver.DownloadImage(ctx, imageURL)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	return s.archiver.ArchiveGeneratedImage(ctx, data, userID)
}

// failGeneration - 실패 경로: 레코드 failed 전환 + 서버 측 전액 환불 + 잔액 재동기화
// 환불/재동기화 실패는 로그만 남기고 원인 에러를 그대로 반환
func (s *Service) failGeneration(ctx context.Context, res *Reservation, cause error) error {
	log.Printf("❌ Generation %s failed: %v", res.GenerationID, cause)

	result, err := s.records.FailGeneration(ctx, res.GenerationID, cause.Error())
	if err != nil {
		log.Printf("⚠️ Failed to mark generation %s failed (refund may not have happened): %v", res.GenerationID, err)
	} else if result != nil && result.Refunded {
		log.Printf("💰 Credits refunded for generation %s", res.GenerationID)
	}

	if _, err := s.ledger.FetchCredits(ctx, res.UserID); err != nil {
		log.Printf("⚠️ Failed to refresh credits after failure: %v", err)
	}

	s.progress.Fail(res.GenerationID, cause.Error())

	return cause
}

func analysisMap(style *model.StyleAnalysis) map[string]interface{} {
	if style == nil {
		return nil
	}
	return map[string]interface{}{
		"lighting":      style.Lighting,
		"background":    style.Background,
		"color_palette": style.ColorPalette,
		"composition":   style.Composition,
		"mood":          style.Mood,
		"props":         style.Props,
		"key_elements":  style.KeyElements,
	}
}

func productMap(product *model.ProductAnalysis) map[string]interface{} {
	if product == nil {
		return nil
	}
	return map[string]interface{}{
		"product_type": product.ProductType,
		"key_features": product.KeyFeatures,
		"colors":       product.Colors,
		"background":   product.Background,
	}
}
