// Package device reads the auxiliary client context apps attach to requests.
package device

import (
	"net/http"
	"strings"

	"github.com/go-registration-api/internal/domain"
)

const (
	HeaderDeviceType = "X-Device-Type"
	HeaderPlatform   = "X-Platform"
)

// FromRequest extracts ClientInfo. Unknown device types are dropped rather than rejected.
func FromRequest(r *http.Request) domain.ClientInfo {
	return domain.ClientInfo{
		DeviceType: Normalize(r.Header.Get(HeaderDeviceType)),
		Platform:   strings.TrimSpace(r.Header.Get(HeaderPlatform)),
	}
}

// Normalize lowercases t and returns "" unless it is web, android or ios.
func Normalize(t string) string {
	switch v := strings.ToLower(strings.TrimSpace(t)); v {
	case domain.DeviceWeb, domain.DeviceAndroid, domain.DeviceIOS:
		return v
	default:
		return ""
	}
}
