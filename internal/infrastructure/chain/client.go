// Package chain talks to the blockchain gateway that signs and pushes
// transactions on behalf of the registration service.
package chain

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-registration-api/internal/config"
	"github.com/go-registration-api/internal/domain"
)

// userIDLength is the fixed length of chain account names.
const userIDLength = 12

const letters = "abcdefghijklmnopqrstuvwxyz"

// Client is an HTTP JSON client for the gateway.
type Client struct {
	baseURL     string
	prefix      string
	maxAttempts int
	http        *http.Client
}

func NewClient(cfg config.Chain, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	maxAttempts := cfg.UserIDMaxAttempt
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.GatewayURL, "/"),
		prefix:      cfg.AccountPrefix,
		maxAttempts: maxAttempts,
		http:        hc,
	}
}

type registerRequest struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	OwnerKey  string `json:"ownerKey"`
	ActiveKey string `json:"activeKey"`
}

type transferRequest struct {
	To       string `json:"to"`
	Quantity string `json:"quantity"`
	Memo     string `json:"memo"`
}

type txResponse struct {
	TransactionID string `json:"transactionId"`
}

// RegisterAccount creates the account and binds username to it. A 409 from the
// gateway means the account name is already in use and maps to ErrUserIDTaken.
func (c *Client) RegisterAccount(ctx context.Context, userID, username, ownerKey, activeKey string) (string, error) {
	var out txResponse
	status, err := c.do(ctx, http.MethodPost, "/v1/accounts", registerRequest{
		UserID: userID, Username: username, OwnerKey: ownerKey, ActiveKey: activeKey,
	}, &out)
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		return out.TransactionID, nil
	case http.StatusConflict:
		return "", fmt.Errorf("register %s: %w", userID, domain.ErrUserIDTaken)
	default:
		return "", fmt.Errorf("register %s: gateway returned %d", userID, status)
	}
}

// AccountExists reports whether userID names an on-chain account.
func (c *Client) AccountExists(ctx context.Context, userID string) (bool, error) {
	return c.exists(ctx, "/v1/accounts/"+url.PathEscape(userID))
}

// Account fetches the on-chain account named userID. A 404 maps to ErrNotFound.
func (c *Client) Account(ctx context.Context, userID string) (*domain.ChainAccount, error) {
	var out domain.ChainAccount
	path := "/v1/accounts/" + url.PathEscape(userID)
	status, err := c.do(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		out.UserID = userID
		return &out, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("account %s: %w", userID, domain.ErrNotFound)
	default:
		return nil, fmt.Errorf("GET %s: gateway returned %d", path, status)
	}
}

// UsernameTaken reports whether username is already bound to an account.
func (c *Client) UsernameTaken(ctx context.Context, username string) (bool, error) {
	return c.exists(ctx, "/v1/usernames/"+url.PathEscape(username))
}

// TransferTokens sends amount (e.g. "1.000 CMN") to the account to.
func (c *Client) TransferTokens(ctx context.Context, to, amount, memo string) error {
	status, err := c.do(ctx, http.MethodPost, "/v1/transfers", transferRequest{To: to, Quantity: amount, Memo: memo}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("transfer to %s: gateway returned %d", to, status)
	}
	return nil
}

// GenerateUserID draws random names until one is free, giving up after the
// configured number of attempts.
func (c *Client) GenerateUserID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		candidate, err := c.randomUserID()
		if err != nil {
			return "", err
		}
		exists, err := c.AccountExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free user id after %d attempts: %w", c.maxAttempts, domain.ErrUserIDTaken)
}

func (c *Client) randomUserID() (string, error) {
	n := userIDLength - len(c.prefix)
	if n <= 0 {
		return "", errors.New("account prefix too long")
	}
	b := make([]byte, n)
	alphabet := big.NewInt(int64(len(letters)))
	for i := range b {
		v, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", fmt.Errorf("random user id: %w", err)
		}
		b[i] = letters[v.Int64()]
	}
	return c.prefix + string(b), nil
}

func (c *Client) exists(ctx context.Context, path string) (bool, error) {
	status, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("GET %s: gateway returned %d", path, status)
	}
}

// do performs the request and decodes a 2xx body into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode %s body: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("build %s request: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode/100 == 2 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}
