package auth

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/supabase-community/supabase-go"
	"stylio-studio-server/modules/common/config"
)

// Client - Supabase GoTrue 기반 세션 검증 클라이언트
type Client struct {
	supabase *supabase.Client
}

// Session - 검증된 사용자 세션
type Session struct {
	UserID string
	Email  string
}

// NewClient - Auth 클라이언트 생성
func NewClient() *Client {
	cfg := config.GetConfig()

	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		log.Printf("❌ Failed to create Supabase client: %v", err)
		return nil
	}

	return &Client{
		supabase: supabaseClient,
	}
}

// SessionFromRequest - Authorization 헤더의 Bearer 토큰으로 세션 검증
// 토큰이 없거나 유효하지 않으면 에러 - 이 시점에서는 어떤 원격 변경도 일어나지 않음
func (c *Client) SessionFromRequest(r *http.Request) (*Session, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" || token == header {
		return nil, fmt.Errorf("invalid Authorization header format")
	}

	return c.VerifyToken(token)
}

// VerifyToken - 액세스 토큰으로 GoTrue 사용자 조회
func (c *Client) VerifyToken(token string) (*Session, error) {
	user, err := c.supabase.Auth.WithToken(token).GetUser()
	if err != nil {
		return nil, fmt.Errorf("failed to verify session: %w", err)
	}

	session := &Session{
		UserID: user.ID.String(),
		Email:  user.Email,
	}

	log.Printf("🔑 Session verified: user=%s", session.UserID)
	return session, nil
}
