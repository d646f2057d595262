package storage

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stylio-studio-server/modules/common/config"
)

func TestDownloadImage(t *testing.T) {
	payload := []byte("fake-image-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	client := NewClient()
	data, err := client.DownloadImage(context.Background(), srv.URL+"/image.png")
	if err != nil {
		t.Fatalf("DownloadImage failed: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("downloaded %d bytes, want %d", len(data), len(payload))
	}
}

func TestDownloadImageExpiredURL(t *testing.T) {
	// 만료된 생성 URL은 403을 반환함
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient()
	if _, err := client.DownloadImage(context.Background(), srv.URL+"/expired.png"); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestUploadSourceImage(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	config.SetConfigForTest(&config.Config{
		SupabaseURL:            srv.URL,
		SupabaseServiceKey:     "service-key",
		SupabaseStorageBaseURL: "https://cdn.example.com/attachments/",
	})

	client := NewClient()
	url, err := client.UploadSourceImage(context.Background(), []byte("image-bytes"), "user-1", "product", "my photo.jpg")
	if err != nil {
		t.Fatalf("UploadSourceImage failed: %v", err)
	}

	if !strings.Contains(gotPath, "/storage/v1/object/attachments/uploads/user-user-1/") {
		t.Errorf("upload path = %q", gotPath)
	}
	if gotAuth != "Bearer service-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if !strings.HasPrefix(url, "https://cdn.example.com/attachments/uploads/user-user-1/") {
		t.Errorf("public URL = %q", url)
	}
	// 파일명의 공백은 치환됨
	if strings.Contains(url, " ") {
		t.Errorf("public URL contains spaces: %q", url)
	}
}

func TestRemoveUpload(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	config.SetConfigForTest(&config.Config{
		SupabaseURL:            srv.URL,
		SupabaseServiceKey:     "service-key",
		SupabaseStorageBaseURL: "https://cdn.example.com/attachments/",
	})

	client := NewClient()
	err := client.RemoveUpload(context.Background(), "https://cdn.example.com/attachments/uploads/user-user-1/product_1_ab.jpg")
	if err != nil {
		t.Fatalf("RemoveUpload failed: %v", err)
	}

	if gotMethod != "DELETE" {
		t.Errorf("method = %q, want DELETE", gotMethod)
	}
	if gotPath != "/storage/v1/object/attachments/uploads/user-user-1/product_1_ab.jpg" {
		t.Errorf("delete path = %q", gotPath)
	}
	if gotAuth != "Bearer service-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	// 우리 스토리지가 아닌 URL은 건드리지 않음
	if err := client.RemoveUpload(context.Background(), "https://other.example.com/file.jpg"); err == nil {
		t.Error("expected error for foreign URL")
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"my photo.jpg", "my_photo.jpg"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{"", "image"},
	}
	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
