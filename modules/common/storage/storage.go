package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG 디코더 등록
	_ "image/png"  // PNG 디코더 등록
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"stylio-studio-server/modules/common/config"
)

type Client struct {
	httpClient *http.Client
}

// NewClient - Storage 클라이언트 생성
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// DownloadImage - 원격 이미지 다운로드
// OpenAI가 반환하는 임시 URL은 약 1시간 후 만료되므로 즉시 내려받아야 함
func (c *Client) DownloadImage(ctx context.Context, imageURL string) ([]byte, error) {
	log.Printf("📥 Downloading image from: %s", imageURL)

	req, err := http.NewRequestWithContext(ctx, "GET", imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to download image: status %d, body: %s", resp.StatusCode, string(body))
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	log.Printf("✅ Image downloaded successfully: %d bytes", len(imageData))
	return imageData, nil
}

// ConvertToWebP - 이미지 바이너리를 WebP로 변환
func (c *Client) ConvertToWebP(imageData []byte, quality float32) ([]byte, error) {
	log.Printf("🔄 Converting image to WebP (quality: %.1f)", quality)

	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var webpBuffer bytes.Buffer
	if err := webp.Encode(&webpBuffer, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}

	webpData := webpBuffer.Bytes()

	log.Printf("✅ %s converted to WebP: %d bytes → %d bytes (%.1f%% reduction)",
		format, len(imageData), len(webpData),
		float64(len(imageData)-len(webpData))/float64(len(imageData))*100)

	return webpData, nil
}

// ArchiveGeneratedImage - 생성 이미지를 WebP로 변환 후 Supabase Storage에 보존
// 반환값은 저장된 파일의 공개 URL
func (c *Client) ArchiveGeneratedImage(ctx context.Context, imageData []byte, userID string) (string, error) {
	webpData, err := c.ConvertToWebP(imageData, 90.0)
	if err != nil {
		return "", fmt.Errorf("failed to convert image to WebP: %w", err)
	}

	timestamp := time.Now().UnixNano() / int64(time.Millisecond)
	fileName := fmt.Sprintf("generated_%d_%s.webp", timestamp, uuid.NewString()[:8])
	filePath := fmt.Sprintf("generated-images/user-%s/%s", userID, fileName)

	if err := c.upload(ctx, filePath, webpData, "image/webp"); err != nil {
		return "", err
	}

	return c.PublicURL(filePath), nil
}

// UploadSourceImage - 업로드된 원본(제품 사진, 커스텀 스타일 레퍼런스) 저장
// 원본 포맷 그대로 저장하고 공개 URL 반환
func (c *Client) UploadSourceImage(ctx context.Context, imageData []byte, userID string, kind string, originalName string) (string, error) {
	timestamp := time.Now().UnixNano() / int64(time.Millisecond)
	fileName := fmt.Sprintf("%s_%d_%s_%s", kind, timestamp, uuid.NewString()[:8], sanitizeName(originalName))
	filePath := fmt.Sprintf("uploads/user-%s/%s", userID, fileName)

	contentType := http.DetectContentType(imageData)
	if err := c.upload(ctx, filePath, imageData, contentType); err != nil {
		return "", err
	}

	return c.PublicURL(filePath), nil
}

// RemoveUpload - 공개 URL이 가리키는 저장 파일 삭제
// 예약이 거절된 생성의 원본 업로드 정리에 사용
func (c *Client) RemoveUpload(ctx context.Context, publicURL string) error {
	cfg := config.GetConfig()

	filePath := strings.TrimPrefix(publicURL, cfg.SupabaseStorageBaseURL)
	if filePath == publicURL {
		return fmt.Errorf("not a storage URL: %s", publicURL)
	}

	deleteURL := fmt.Sprintf("%s/storage/v1/object/attachments/%s", cfg.SupabaseURL, filePath)

	req, err := http.NewRequestWithContext(ctx, "DELETE", deleteURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.SupabaseServiceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete failed with status %d: %s", resp.StatusCode, string(body))
	}

	log.Printf("🗑️  Removed orphaned upload: %s", filePath)
	return nil
}

// PublicURL - Storage 경로의 공개 URL 생성
func (c *Client) PublicURL(filePath string) string {
	cfg := config.GetConfig()
	return cfg.SupabaseStorageBaseURL + filePath
}

// upload - Supabase Storage API로 업로드 실행
func (c *Client) upload(ctx context.Context, filePath string, data []byte, contentType string) error {
	cfg := config.GetConfig()

	log.Printf("📤 Uploading to storage: %s (%d bytes)", filePath, len(data))

	uploadURL := fmt.Sprintf("%s/storage/v1/object/attachments/%s", cfg.SupabaseURL, filePath)

	req, err := http.NewRequestWithContext(ctx, "POST", uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+cfg.SupabaseServiceKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	log.Printf("✅ Upload completed: %s", filePath)
	return nil
}

// sanitizeName - 파일명에서 경로 구분자 제거
func sanitizeName(name string) string {
	if name == "" {
		return "image"
	}
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if ch == '/' || ch == '\\' || ch == ' ' {
			out = append(out, '_')
			continue
		}
		out = append(out, ch)
	}
	return string(out)
}
