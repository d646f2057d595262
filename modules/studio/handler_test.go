package studio

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"stylio-studio-server/modules/common/auth"
	"stylio-studio-server/modules/common/config"
	"stylio-studio-server/modules/common/model"
	openaiclient "stylio-studio-server/modules/common/openai"
	"stylio-studio-server/modules/progress"
)

func TestDecodeBase64Image(t *testing.T) {
	raw := []byte("image-bytes")
	encoded := base64.StdEncoding.EncodeToString(raw)

	// 순수 base64
	data, err := decodeBase64Image(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(data, raw) {
		t.Errorf("decoded = %q", data)
	}

	// data URL 접두어 포함
	data, err = decodeBase64Image("data:image/png;base64," + encoded)
	if err != nil {
		t.Fatalf("decode with prefix failed: %v", err)
	}
	if !bytes.Equal(data, raw) {
		t.Errorf("decoded = %q", data)
	}

	if _, err := decodeBase64Image("!!not-base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestGenerateErrorResponse(t *testing.T) {
	tests := []struct {
		err      error
		wantCode string
	}{
		{ErrNotAuthenticated, ErrCodeUnauthorized},
		{ErrNoProductImage, ErrCodeImageRequired},
		{ErrInvalidStyleReference, ErrCodeImageRequired},
		{ErrInvalidVariantCount, ErrCodeInvalidRequest},
		{ErrInsufficientCredits, ErrCodeInsufficientCredits},
		{fmt.Errorf("image call: %w", openaiclient.ErrTimedOut), ErrCodeTimeout},
		{errors.New("reservation rejected: insufficient credits"), ErrCodeReservationFailed},
		{errors.New("variant 2 of 3 failed"), ErrCodeGenerationFailed},
	}

	for _, tt := range tests {
		resp := generateErrorResponse(tt.err)
		if resp.Success {
			t.Errorf("Success = true for error %v", tt.err)
		}
		if resp.ErrorCode != tt.wantCode {
			t.Errorf("error %v mapped to %s, want %s", tt.err, resp.ErrorCode, tt.wantCode)
		}
	}
}

func parseRequestBody(t *testing.T, h *Handler, body interface{}) (*GenerateOptions, *GenerateResponse) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", "/api/studio/generate", bytes.NewReader(data))
	return h.parseGenerateRequest(req, "user-1")
}

func TestParseGenerateRequest(t *testing.T) {
	h := &Handler{}

	opts, resp := parseRequestBody(t, h, GenerateRequest{
		ProductImageURL:   "https://example.com/product.jpg",
		StyleReferenceID:  "lib-1",
		StyleReferenceURL: "https://example.com/style.jpg",
		VariantCount:      2,
		Quality:           "hd",
	})
	if resp != nil {
		t.Fatalf("unexpected error response: %+v", resp)
	}
	if opts.UserID != "user-1" {
		t.Errorf("UserID = %q", opts.UserID)
	}
	if opts.ProductImage.URL != "https://example.com/product.jpg" {
		t.Errorf("ProductImage = %+v", opts.ProductImage)
	}
	if opts.StyleReference.Library == nil || opts.StyleReference.Library.ID != "lib-1" {
		t.Errorf("StyleReference = %+v", opts.StyleReference)
	}
	if opts.VariantCount != 2 {
		t.Errorf("VariantCount = %d", opts.VariantCount)
	}
}

func TestParseGenerateRequestDefaults(t *testing.T) {
	h := &Handler{}

	opts, resp := parseRequestBody(t, h, GenerateRequest{
		ProductImageURL:   "https://example.com/product.jpg",
		StyleReferenceURL: "https://example.com/style.jpg",
	})
	if resp != nil {
		t.Fatalf("unexpected error response: %+v", resp)
	}
	// variant 수 생략 시 1
	if opts.VariantCount != 1 {
		t.Errorf("VariantCount = %d, want 1", opts.VariantCount)
	}
}

func TestParseGenerateRequestInlineImages(t *testing.T) {
	h := &Handler{}
	encoded := base64.StdEncoding.EncodeToString([]byte("img"))

	opts, resp := parseRequestBody(t, h, GenerateRequest{
		ProductImageBase64: "data:image/jpeg;base64," + encoded,
		ProductImageName:   "shot.jpg",
		CustomStyleBase64:  encoded,
		CustomStyleName:    "ref.png",
		VariantCount:       1,
	})
	if resp != nil {
		t.Fatalf("unexpected error response: %+v", resp)
	}
	if len(opts.ProductImage.Data) == 0 || opts.ProductImage.Name != "shot.jpg" {
		t.Errorf("ProductImage = %+v", opts.ProductImage)
	}
	if opts.StyleReference.Custom == nil || opts.StyleReference.Custom.Name != "ref.png" {
		t.Errorf("StyleReference = %+v", opts.StyleReference)
	}
}

func TestParseGenerateRequestValidation(t *testing.T) {
	h := &Handler{}

	// 제품 이미지 누락
	_, resp := parseRequestBody(t, h, GenerateRequest{
		StyleReferenceURL: "https://example.com/style.jpg",
	})
	if resp == nil || resp.ErrorCode != ErrCodeImageRequired {
		t.Errorf("missing product image: %+v", resp)
	}

	// 스타일 레퍼런스 누락
	_, resp = parseRequestBody(t, h, GenerateRequest{
		ProductImageURL: "https://example.com/product.jpg",
	})
	if resp == nil || resp.ErrorCode != ErrCodeImageRequired {
		t.Errorf("missing style reference: %+v", resp)
	}

	// 깨진 base64
	_, resp = parseRequestBody(t, h, GenerateRequest{
		ProductImageBase64: "!!broken!!",
		StyleReferenceURL:  "https://example.com/style.jpg",
	})
	if resp == nil || resp.ErrorCode != ErrCodeInvalidRequest {
		t.Errorf("broken base64: %+v", resp)
	}
}

// newAuthedHandler - GoTrue 스텁으로 세션 검증까지 통과하는 Handler 구성
func newAuthedHandler(t *testing.T, userID string, records RecordStore) *Handler {
	t.Helper()

	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/auth/v1/user") {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"id":"%s","email":"user@example.com"}`, userID)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(authSrv.Close)

	config.SetConfigForTest(&config.Config{
		SupabaseURL:        authSrv.URL,
		SupabaseServiceKey: "test-key",
	})

	authClient := auth.NewClient()
	if authClient == nil {
		t.Fatal("auth.NewClient returned nil")
	}

	return NewHandler(nil, nil, records, newFakeLedger(userID, 10), authClient, progress.NewHub(), nil)
}

func TestHandleGetGenerationFailedRecord(t *testing.T) {
	userID := "4f2c9d1e-0000-0000-0000-000000000001"
	msg := "style analysis failed: rate limited"
	records := &fakeRecords{generations: map[string]*model.Generation{
		"gen-9": {
			GenerationID: "gen-9",
			UserID:       userID,
			Status:       model.StatusFailed,
			ErrorMessage: &msg,
		},
	}}
	h := newAuthedHandler(t, userID, records)

	router := mux.NewRouter()
	router.HandleFunc("/api/studio/generations/{id}", h.HandleGetGeneration)

	req := httptest.NewRequest("GET", "/api/studio/generations/gen-9", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp RecoveryResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success || !resp.Found {
		t.Fatalf("response = %+v, want success+found", resp)
	}
	if resp.Status != model.StatusFailed {
		t.Errorf("Status = %q, want failed", resp.Status)
	}
	// 저장된 실패 사유가 조회 응답에도 실려야 함
	if resp.ErrorMessage != msg {
		t.Errorf("ErrorMessage = %q, want %q", resp.ErrorMessage, msg)
	}
}
