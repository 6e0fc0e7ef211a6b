// Package captcha checks reCAPTCHA tokens against the provider's siteverify endpoint.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-registration-api/internal/config"
	"github.com/go-registration-api/internal/domain"
)

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verifier holds one secret per client type since web and mobile apps are
// registered as separate reCAPTCHA sites.
type Verifier struct {
	url     string
	secrets map[string]string
	client  *http.Client
}

func NewVerifier(cfg config.Captcha, client *http.Client) *Verifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Verifier{
		url: cfg.VerifyURL,
		secrets: map[string]string{
			domain.DeviceWeb:     cfg.WebSecret,
			domain.DeviceAndroid: cfg.AndroidSecret,
			domain.DeviceIOS:     cfg.IOSSecret,
		},
		client: client,
	}
}

// Verify returns ErrCaptchaFailed when the token is rejected or the client type
// has no secret. Transport failures are returned as plain errors.
func (v *Verifier) Verify(ctx context.Context, token, clientType string) error {
	if clientType == "" {
		clientType = domain.DeviceWeb
	}
	secret := v.secrets[clientType]
	if secret == "" {
		return domain.ErrCaptchaFailed.WithReason("unsupported client type " + clientType)
	}
	if token == "" {
		return domain.ErrCaptchaFailed.WithReason("missing token")
	}

	form := url.Values{"secret": {secret}, "response": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build captcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("captcha request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("captcha returned %s", resp.Status)
	}

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode captcha response: %w", err)
	}
	if !result.Success {
		return domain.ErrCaptchaFailed.WithReason(strings.Join(result.ErrorCodes, ","))
	}
	return nil
}
