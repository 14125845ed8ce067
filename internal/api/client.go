// Package api implements the REST client the session manager talks to.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/domain"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/pkg/logger"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/pkg/retry"
	"go.uber.org/zap"
)

// Config holds REST client configuration
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// Client is the bearer-token authenticated REST client. The session
// manager owns the token and pushes it in via SetToken/ClearToken.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger

	mu    sync.RWMutex
	token string

	// retryCfg governs idempotent calls (profile/role fetches, upserts)
	retryCfg *retry.Config
}

// NewClient creates a REST client
func NewClient(cfg *Config, log *logger.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		http:     &http.Client{Timeout: timeout},
		log:      log,
		retryCfg: retry.DefaultConfig(),
	}
}

// SetToken installs the bearer token used for authenticated calls
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearToken removes the bearer token
func (c *Client) ClearToken() {
	c.SetToken("")
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// envelope is the server's uniform response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// doJSON performs one request and decodes the envelope into out (out may
// be nil). Network failures map to TransportError, 401/403 to
// ErrUnauthorized, other non-2xx to ServerRejected.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransportError{Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			if resp.StatusCode >= 400 {
				return &ServerRejected{Message: http.StatusText(resp.StatusCode)}
			}
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	if resp.StatusCode >= 400 || (len(raw) > 0 && !env.Success) {
		rej := &ServerRejected{Message: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			rej.Code = env.Error.Code
			rej.Message = env.Error.Message
		}
		return rej
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// doIdempotent wraps doJSON in the retry policy: transport errors retry,
// server rejections and unauthorized are permanent.
func (c *Client) doIdempotent(ctx context.Context, method, path string, body, out any) error {
	cfg := *c.retryCfg
	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
		c.log.Warn("retrying API call",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Duration("next_in", next),
			zap.Error(err))
	}
	return retry.Do(ctx, &cfg, func(ctx context.Context) error {
		err := c.doJSON(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if IsTransport(err) {
			return err
		}
		return retry.Permanent(err)
	})
}

// SendVerificationCode asks the server to dispatch a one-time code
func (c *Client) SendVerificationCode(ctx context.Context, phone string) error {
	body := map[string]string{"phone": phone}
	return c.doJSON(ctx, http.MethodPost, "/auth/send-code", body, nil)
}

// VerifyResult is the payload of a successful code exchange
type VerifyResult struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

// VerifyCode exchanges phone+code for a bearer token and user identity
func (c *Client) VerifyCode(ctx context.Context, phone, code string) (*VerifyResult, error) {
	body := map[string]string{"phone": phone, "code": code}
	var res VerifyResult
	if err := c.doJSON(ctx, http.MethodPost, "/auth/verify-code", body, &res); err != nil {
		return nil, err
	}
	if res.Token == "" || res.User == nil || res.User.ID == "" {
		return nil, &ServerRejected{Code: "MALFORMED_RESPONSE", Message: "verify response missing token or user"}
	}
	return &res, nil
}

// GetProfile fetches the extended user profile
func (c *Client) GetProfile(ctx context.Context) (*domain.User, error) {
	var user domain.User
	if err := c.doIdempotent(ctx, http.MethodGet, "/user/profile", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile pushes profile field changes to the server
func (c *Client) UpdateProfile(ctx context.Context, user *domain.User) error {
	return c.doJSON(ctx, http.MethodPut, "/user/profile", user, nil)
}

// adminStatusResponse mirrors the admin-status check payload
type adminStatusResponse struct {
	IsAdmin bool                 `json:"isAdmin"`
	Profile *domain.AdminProfile `json:"profile,omitempty"`
}

// CheckAdminStatus resolves the admin overlay; nil profile means the user
// is not an employee.
func (c *Client) CheckAdminStatus(ctx context.Context) (*domain.AdminProfile, error) {
	var res adminStatusResponse
	if err := c.doIdempotent(ctx, http.MethodGet, "/user/admin-status", nil, &res); err != nil {
		return nil, err
	}
	if !res.IsAdmin {
		return nil, nil
	}
	return res.Profile, nil
}

// courierStatusResponse mirrors the courier-status check payload
type courierStatusResponse struct {
	IsCourier bool                   `json:"isCourier"`
	Profile   *domain.CourierProfile `json:"profile,omitempty"`
}

// CheckCourierStatus resolves the courier overlay; nil profile means the
// user is not a courier.
func (c *Client) CheckCourierStatus(ctx context.Context) (*domain.CourierProfile, error) {
	var res courierStatusResponse
	if err := c.doIdempotent(ctx, http.MethodGet, "/user/courier-status", nil, &res); err != nil {
		return nil, err
	}
	if !res.IsCourier {
		return nil, nil
	}
	return res.Profile, nil
}

// SetCourierOnline toggles the courier's shift state
func (c *Client) SetCourierOnline(ctx context.Context, online bool) error {
	body := map[string]bool{"isOnline": online}
	return c.doJSON(ctx, http.MethodPut, "/courier/online", body, nil)
}

// DeviceUpsert carries the push-identity metadata synced to the server
type DeviceUpsert struct {
	DeviceID       string `json:"deviceId"`
	OneSignalID    string `json:"oneSignalId,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	PushEnabled    bool   `json:"pushEnabled"`
	Platform       string `json:"platform,omitempty"`
	AppVersion     string `json:"appVersion,omitempty"`
}

// UpsertDevice idempotently syncs device/push metadata for the current user
func (c *Client) UpsertDevice(ctx context.Context, dev *DeviceUpsert) error {
	return c.doIdempotent(ctx, http.MethodPut, "/user/device", dev, nil)
}

// ValidateToken checks the current bearer token against the server.
// Returns nil (valid), ErrUnauthorized (explicitly rejected), or a
// TransportError (advisory only, never a logout trigger).
func (c *Client) ValidateToken(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/auth/validate", nil, nil)
}
