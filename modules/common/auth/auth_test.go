package auth

import (
	"net/http/httptest"
	"testing"
)

func TestSessionFromRequestHeaderValidation(t *testing.T) {
	client := &Client{}

	// Authorization 헤더 없음
	req := httptest.NewRequest("POST", "/api/studio/generate", nil)
	if _, err := client.SessionFromRequest(req); err == nil {
		t.Error("expected error for missing Authorization header")
	}

	// Bearer 접두어 없음
	req = httptest.NewRequest("POST", "/api/studio/generate", nil)
	req.Header.Set("Authorization", "some-raw-token")
	if _, err := client.SessionFromRequest(req); err == nil {
		t.Error("expected error for non-Bearer header")
	}

	// Bearer 뒤가 비어있음
	req = httptest.NewRequest("POST", "/api/studio/generate", nil)
	req.Header.Set("Authorization", "Bearer ")
	if _, err := client.SessionFromRequest(req); err == nil {
		t.Error("expected error for empty token")
	}
}
