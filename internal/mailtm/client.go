// Package mailtm creates disposable mailboxes on the mail.tm REST API.
package mailtm

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/autoref/internal/errors"
	"github.com/Iron-Ham/autoref/internal/task"
)

// DefaultBaseURL is the public mail.tm API.
const DefaultBaseURL = "https://api.mail.tm"

// Remote operation names used in errors and logs.
const (
	OpListDomains   = "list domains"
	OpCreateAccount = "create mailbox"
)

// Client creates mailboxes. It has no retry of its own; callers wrap Create
// in retry.Until.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

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

// NewClient creates a Client for the public API.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Domain is one receiving domain offered by the provider.
type Domain struct {
	ID       string `json:"id"`
	Domain   string `json:"domain"`
	IsActive bool   `json:"isActive"`
}

type accountRequest struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}

type accountResponse struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// Domains lists the provider's domains.
func (c *Client) Domains(ctx context.Context) ([]Domain, error) {
	body, status, err := c.do(ctx, OpListDomains, http.MethodGet, "/domains", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.NewRemoteError(OpListDomains, status, body)
	}

	var domains []Domain
	if err := json.Unmarshal(body, &domains); err == nil {
		return domains, nil
	}

	// JSON-LD collection, returned when the Accept header is ignored.
	var collection struct {
		Members []Domain `json:"hydra:member"`
	}
	if err := json.Unmarshal(body, &collection); err != nil {
		return nil, errors.NewRemoteError(OpListDomains, status, body).WithCause(err)
	}
	return collection.Members, nil
}

// Create registers a new mailbox on the first active domain, with a random
// 32-character local part and an 8-character password.
func (c *Client) Create(ctx context.Context) (*task.Account, error) {
	domains, err := c.Domains(ctx)
	if err != nil {
		return nil, err
	}

	var domain string
	for _, d := range domains {
		if d.IsActive {
			domain = d.Domain
			break
		}
	}
	if domain == "" {
		return nil, errors.NewRemoteError(OpListDomains, http.StatusOK, []byte("no active domain"))
	}

	password, err := randomHex(4)
	if err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}
	req := accountRequest{
		Address:  strings.ReplaceAll(uuid.NewString(), "-", "") + "@" + domain,
		Password: password,
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	body, status, err := c.do(ctx, OpCreateAccount, http.MethodPost, "/accounts", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, errors.NewRemoteError(OpCreateAccount, status, body)
	}

	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.NewRemoteError(OpCreateAccount, status, body).WithCause(err)
	}

	address := resp.Address
	if address == "" {
		address = req.Address
	}
	return &task.Account{Address: address, Password: req.Password}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.NewRemoteError(op, 0, nil).WithCause(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.NewRemoteError(op, resp.StatusCode, nil).WithCause(err)
	}
	return body, resp.StatusCode, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
