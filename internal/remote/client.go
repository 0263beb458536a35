// Package remote is the HTTP client for the registration service: account
// registration, profile setup and referral confirmation.
//
// Response bodies are decoded whatever the HTTP status, because the service
// reports failures such as a bad referral code in the JSON envelope. Only a
// body that cannot be decoded becomes an *errors.RemoteError.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Iron-Ham/autoref/internal/errors"
)

// Endpoint paths, relative to the configured base URL.
const (
	PathRegister        = "/auth/register"
	PathProfile         = "/user/profile"
	PathReferral        = "/user/referral"
	PathConfirmReferral = "/user/referral/confirm"
)

// Remote operation names used in errors and logs.
const (
	OpRegister        = "register"
	OpCreateProfile   = "create profile"
	OpReferralInfo    = "referral info"
	OpConfirmReferral = "confirm referral"
)

// Profile steps.
const (
	StepUsername    = "username"
	StepDescription = "description"
)

// Client talks to the registration service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout. Zero means no timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a Client rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("remote: base URL is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FlexString decodes a JSON string or number into a string.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// RegisterResponse is the envelope returned by registration.
type RegisterResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Token string `json:"token"`
	} `json:"data"`
}

// ProfileStep is one profile-setup request.
type ProfileStep struct {
	Step        string `json:"step"`
	Username    string `json:"username,omitempty"`
	Description string `json:"description,omitempty"`
}

// ProfileResponse is the envelope returned by profile setup.
type ProfileResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ReferralInfoResponse describes an account's own referral code.
type ReferralInfoResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		IsReferralActive bool   `json:"is_referral_active"`
		ReferralCode     string `json:"referral_code"`
	} `json:"data"`
}

// ConfirmResponse is the envelope returned when applying a referral code.
type ConfirmResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Data    struct {
		Token  string     `json:"token"`
		UserID FlexString `json:"user_id"`
	} `json:"data"`
}

type registerRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	ReferralCode string `json:"referral_code,omitempty"`
}

type confirmRequest struct {
	ReferralCode string `json:"referral_code"`
}

// Register creates a service account for email. referrer may be empty.
func (c *Client) Register(ctx context.Context, email, password, referrer string) (*RegisterResponse, error) {
	var resp RegisterResponse
	err := c.call(ctx, OpRegister, http.MethodPost, PathRegister, "", registerRequest{
		Email:        email,
		Password:     password,
		ReferralCode: referrer,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateProfile submits one profile step for the account behind token.
func (c *Client) CreateProfile(ctx context.Context, token string, step ProfileStep) (*ProfileResponse, error) {
	var resp ProfileResponse
	if err := c.call(ctx, OpCreateProfile, http.MethodPost, PathProfile, token, step, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReferralInfo fetches the referral code owned by the account behind token.
func (c *Client) ReferralInfo(ctx context.Context, token string) (*ReferralInfoResponse, error) {
	var resp ReferralInfoResponse
	if err := c.call(ctx, OpReferralInfo, http.MethodGet, PathReferral, token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConfirmReferral applies code to the account behind token.
func (c *Client) ConfirmReferral(ctx context.Context, token, code string) (*ConfirmResponse, error) {
	var resp ConfirmResponse
	err := c.call(ctx, OpConfirmReferral, http.MethodPost, PathConfirmReferral, token, confirmRequest{ReferralCode: code}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) call(ctx context.Context, op, method, path, token string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewRemoteError(op, 0, nil).WithCause(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewRemoteError(op, resp.StatusCode, nil).WithCause(err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.NewRemoteError(op, resp.StatusCode, body).WithCause(err)
	}
	return nil
}
