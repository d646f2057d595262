package studio

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	goredis "github.com/redis/go-redis/v9"
	"stylio-studio-server/modules/common/auth"
	"stylio-studio-server/modules/common/model"
	openaiclient "stylio-studio-server/modules/common/openai"
	"stylio-studio-server/modules/common/redis"
	"stylio-studio-server/modules/progress"
)

type Handler struct {
	service  *Service
	recovery *Recovery
	records  RecordStore
	ledger   Ledger
	auth     *auth.Client
	hub      *progress.Hub
	rdb      *goredis.Client
}

func NewHandler(service *Service, recovery *Recovery, records RecordStore, ledger Ledger, authClient *auth.Client, hub *progress.Hub, rdb *goredis.Client) *Handler {
	return &Handler{
		service:  service,
		recovery: recovery,
		records:  records,
		ledger:   ledger,
		auth:     authClient,
		hub:      hub,
		rdb:      rdb,
	}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/studio/generate", h.HandleGenerate).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/studio/enqueue", h.HandleEnqueue).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/studio/generations/{id}", h.HandleGetGeneration).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/studio/generations/{id}/cancel", h.HandleCancel).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/studio/active", h.HandleActive).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/studio/credits", h.HandleCredits).Methods("GET", "OPTIONS")
	log.Println("✅ Studio routes registered")
}

// setCORSHeaders - CORS 헤더 설정
func setCORSHeaders(w http.ResponseWriter, methods string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

// HandleGenerate - POST /api/studio/generate
// 동기 생성: 예약부터 완료까지 한 요청에서 처리
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "POST, OPTIONS")
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	session, err := h.auth.SessionFromRequest(r)
	if err != nil {
		json.NewEncoder(w).Encode(GenerateResponse{
			Success:      false,
			ErrorMessage: "Please sign in to generate images",
			ErrorCode:    ErrCodeUnauthorized,
		})
		return
	}

	opts, resp := h.parseGenerateRequest(r, session.UserID)
	if resp != nil {
		json.NewEncoder(w).Encode(resp)
		return
	}

	result, err := h.service.Generate(r.Context(), *opts)
	if err != nil {
		json.NewEncoder(w).Encode(generateErrorResponse(err))
		return
	}

	remaining, _ := h.ledger.CreditsIfFresh(r.Context(), session.UserID)

	json.NewEncoder(w).Encode(GenerateResponse{
		Success:          true,
		GenerationID:     result.GenerationID,
		Images:           result.Images,
		CreditsUsed:      result.CreditsCharged,
		CreditsRemaining: remaining,
	})
}

// HandleEnqueue - POST /api/studio/enqueue
// 비동기 생성: 예약 후 큐에 넣고 즉시 응답, 실행은 워커가 담당
func (h *Handler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "POST, OPTIONS")
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	session, err := h.auth.SessionFromRequest(r)
	if err != nil {
		json.NewEncoder(w).Encode(GenerateResponse{
			Success:      false,
			ErrorMessage: "Please sign in to generate images",
			ErrorCode:    ErrCodeUnauthorized,
		})
		return
	}

	opts, resp := h.parseGenerateRequest(r, session.UserID)
	if resp != nil {
		json.NewEncoder(w).Encode(resp)
		return
	}

	res, remaining, err := h.service.Reserve(r.Context(), *opts)
	if err != nil {
		json.NewEncoder(w).Encode(generateErrorResponse(err))
		return
	}

	position, err := redis.EnqueueGeneration(r.Context(), h.rdb, res.GenerationID)
	if err != nil {
		// 예약은 이미 됐으므로 레코드를 failed로 전환해 환불 유도
		log.Printf("❌ Failed to enqueue generation %s: %v", res.GenerationID, err)
		if _, failErr := h.records.FailGeneration(r.Context(), res.GenerationID, "failed to enqueue"); failErr != nil {
			log.Printf("⚠️ Failed to mark generation %s failed: %v", res.GenerationID, failErr)
		}
		json.NewEncoder(w).Encode(GenerateResponse{
			Success:      false,
			ErrorMessage: "Failed to queue generation",
			ErrorCode:    ErrCodeInternalError,
		})
		return
	}

	json.NewEncoder(w).Encode(GenerateResponse{
		Success:          true,
		GenerationID:     res.GenerationID,
		CreditsUsed:      res.VariantCount,
		CreditsRemaining: remaining,
		QueuePosition:    position,
	})
}

// HandleGetGeneration - GET /api/studio/generations/{id}
func (h *Handler) HandleGetGeneration(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "GET, OPTIONS")
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	session, err := h.auth.SessionFromRequest(r)
	if err != nil {
		json.NewEncoder(w).Encode(RecoveryResponse{
			Success:      false,
			ErrorMessage: "Please sign in",
			ErrorCode:    ErrCodeUnauthorized,
		})
		return
	}

	generationID := mux.Vars(r)["id"]
	rec, err := h.records.FetchGeneration(r.Context(), generationID)
	if err != nil || rec == nil || rec.UserID != session.UserID {
		json.NewEncoder(w).Encode(RecoveryResponse{
			Success:      false,
			ErrorMessage: "Generation not found",
			ErrorCode:    ErrCodeNotFound,
		})
		return
	}

	resp := RecoveryResponse{
		Success:      true,
		Found:        true,
		GenerationID: rec.GenerationID,
		Status:       rec.Status,
	}
	switch rec.Status {
	case model.StatusCompleted:
		resp.Percent = 100
		resp.Images = projectVariants(rec)
	case model.StatusFailed:
		resp.ErrorMessage = "generation failed"
		if rec.ErrorMessage != nil && *rec.ErrorMessage != "" {
			resp.ErrorMessage = *rec.ErrorMessage
		}
	}
	json.NewEncoder(w).Encode(resp)
}

// HandleCancel - POST /api/studio/generations/{id}/cancel
// 로컬 취소만 수행 - 원격 작업 중단이나 환불은 없음
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "POST, OPTIONS")
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, err := h.auth.SessionFromRequest(r); err != nil {
		json.NewEncoder(w).Encode(GenerateResponse{
			Success:      false,
			ErrorMessage: "Please sign in",
			ErrorCode:    ErrCodeUnauthorized,
		})
		return
	}

	generationID := mux.Vars(r)["id"]
	if !h.hub.Cancel(generationID) {
		json.NewEncoder(w).Encode(GenerateResponse{
			Success:      false,
			ErrorMessage: "No active generation to cancel",
			ErrorCode:    ErrCodeNotFound,
		})
		return
	}

	json.NewEncoder(w).Encode(GenerateResponse{
		Success:      true,
		GenerationID: generationID,
	})
}

// HandleActive - GET /api/studio/active
// 리로드 후 복구: 진행 중 생성이 있으면 채택하고 폴링 시작
func (h *Handler) HandleActive(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "GET, OPTIONS")
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	session, err := h.auth.SessionFromRequest(r)
	if err != nil {
		json.NewEncoder(w).Encode(RecoveryResponse{
			Success:      false,
			ErrorMessage: "Please sign in",
			ErrorCode:    ErrCodeUnauthorized,
		})
		return
	}

	state, err := h.recovery.FindActive(r.Context(), session.UserID)
	if err != nil {
		log.Printf("❌ [Studio] Recovery lookup failed: %v", err)
		json.NewEncoder(w).Encode(RecoveryResponse{
			Success:      false,
			ErrorMessage: "Failed to look up active generation",
			ErrorCode:    ErrCodeInternalError,
		})
		return
	}

	json.NewEncoder(w).Encode(RecoveryResponse{
		Success:      true,
		Found:        state.Found,
		GenerationID: state.GenerationID,
		Status:       state.Status,
		Percent:      state.Percent,
		Images:       state.Images,
	})
}

// HandleCredits - GET /api/studio/credits
func (h *Handler) HandleCredits(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "GET, OPTIONS")
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	session, err := h.auth.SessionFromRequest(r)
	if err != nil {
		json.NewEncoder(w).Encode(CreditsResponse{
			Success:      false,
			ErrorMessage: "Please sign in",
			ErrorCode:    ErrCodeUnauthorized,
		})
		return
	}

	credits, err := h.ledger.CreditsIfFresh(r.Context(), session.UserID)
	if err != nil {
		json.NewEncoder(w).Encode(CreditsResponse{
			Success:      false,
			ErrorMessage: "Failed to fetch credits",
			ErrorCode:    ErrCodeInternalError,
		})
		return
	}

	json.NewEncoder(w).Encode(CreditsResponse{
		Success: true,
		Credits: credits,
	})
}

// parseGenerateRequest - 요청 파싱 + 입력 검증
// 실패 시 두 번째 반환값에 에러 응답을 담아 반환
func (h *Handler) parseGenerateRequest(r *http.Request, userID string) (*GenerateOptions, *GenerateResponse) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("❌ [Studio] Invalid request: %v", err)
		return nil, &GenerateResponse{
			Success:      false,
			ErrorMessage: "Invalid request format",
			ErrorCode:    ErrCodeInvalidRequest,
		}
	}

	opts := GenerateOptions{
		UserID:             userID,
		VariantCount:       req.VariantCount,
		AspectRatio:        req.AspectRatio,
		Quality:            req.Quality,
		StyleDescription:   req.StyleDescription,
		ProductDescription: req.ProductDescription,
	}
	if opts.VariantCount == 0 {
		opts.VariantCount = 1
	}

	// 제품 이미지 - URL 또는 Base64
	if strings.TrimSpace(req.ProductImageURL) != "" {
		opts.ProductImage = ImageSource{URL: req.ProductImageURL}
	} else if req.ProductImageBase64 != "" {
		data, err := decodeBase64Image(req.ProductImageBase64)
		if err != nil {
			return nil, &GenerateResponse{
				Success:      false,
				ErrorMessage: "Invalid product image data",
				ErrorCode:    ErrCodeInvalidRequest,
			}
		}
		opts.ProductImage = ImageSource{Data: data, Name: req.ProductImageName}
	} else {
		return nil, &GenerateResponse{
			Success:      false,
			ErrorMessage: "Product image is required",
			ErrorCode:    ErrCodeImageRequired,
		}
	}

	// 스타일 레퍼런스 - 라이브러리 또는 커스텀 업로드
	if strings.TrimSpace(req.StyleReferenceURL) != "" {
		opts.StyleReference = StyleReference{
			Library: &LibraryStyle{ID: req.StyleReferenceID, URL: req.StyleReferenceURL},
		}
	} else if req.CustomStyleBase64 != "" {
		data, err := decodeBase64Image(req.CustomStyleBase64)
		if err != nil {
			return nil, &GenerateResponse{
				Success:      false,
				ErrorMessage: "Invalid style reference data",
				ErrorCode:    ErrCodeInvalidRequest,
			}
		}
		opts.StyleReference = StyleReference{
			Custom: &CustomStyle{Data: data, Name: req.CustomStyleName},
		}
	} else {
		return nil, &GenerateResponse{
			Success:      false,
			ErrorMessage: "Style reference is required",
			ErrorCode:    ErrCodeImageRequired,
		}
	}

	return &opts, nil
}

// generateErrorResponse - 에러를 클라이언트 에러 코드로 매핑
func generateErrorResponse(err error) GenerateResponse {
	resp := GenerateResponse{
		Success:      false,
		ErrorMessage: err.Error(),
	}

	switch {
	case errors.Is(err, ErrNotAuthenticated):
		resp.ErrorCode = ErrCodeUnauthorized
		resp.ErrorMessage = "Please sign in to generate images"
	case errors.Is(err, ErrNoProductImage), errors.Is(err, ErrInvalidStyleReference):
		resp.ErrorCode = ErrCodeImageRequired
	case errors.Is(err, ErrInvalidVariantCount):
		resp.ErrorCode = ErrCodeInvalidRequest
	case errors.Is(err, ErrInsufficientCredits):
		resp.ErrorCode = ErrCodeInsufficientCredits
		resp.ErrorMessage = "Not enough credits. Please top up."
	case errors.Is(err, openaiclient.ErrTimedOut):
		resp.ErrorCode = ErrCodeTimeout
	case strings.Contains(err.Error(), "reservation"):
		resp.ErrorCode = ErrCodeReservationFailed
	default:
		resp.ErrorCode = ErrCodeGenerationFailed
	}

	return resp
}

// decodeBase64Image - data URL 접두어를 제거하고 디코딩
func decodeBase64Image(encoded string) ([]byte, error) {
	if idx := strings.Index(encoded, ";base64,"); idx >= 0 {
		encoded = encoded[idx+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
}
