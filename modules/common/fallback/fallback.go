package fallback

import (
	"encoding/json"
	"strconv"
	"strings"
)

// SafeString - 문자열이 아니거나 비어있으면 fallback 반환
func SafeString(value interface{}, fallback string) string {
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if s != "" {
			return s
		}
	}
	return fallback
}

// SafeInt - jsonb에서 올 수 있는 숫자 형태들을 int로 변환
func SafeInt(value interface{}, fallback int) int {
	switch v := value.(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case float32:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case json.Number:
		if n, err := strconv.Atoi(v.String()); err == nil && n > 0 {
			return n
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// SafeAspectRatio - 생성 입력의 기본 종횡비 보장
func SafeAspectRatio(value interface{}) string {
	return SafeString(value, "1:1")
}

// SafeQuality - quality 플래그 정규화: low 외의 모든 값은 hd
func SafeQuality(value interface{}) string {
	q := strings.ToLower(SafeString(value, "hd"))
	if q == "low" {
		return "low"
	}
	return "hd"
}

// SafeVariantCount - variant 수를 최소 1로 보정
func SafeVariantCount(value interface{}, fallback int) int {
	n := SafeInt(value, fallback)
	if n < 1 {
		return 1
	}
	return n
}
