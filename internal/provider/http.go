package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/branchops-labs/branchops-go/internal/domain"
	"github.com/branchops-labs/branchops-go/internal/platform/env"
)

type Config struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("BRANCHOPS_PROVIDER_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	maxRetries, err := env.Int("BRANCHOPS_PROVIDER_MAX_RETRIES", 3)
	if err != nil {
		return Config{}, err
	}
	backoff, err := env.Duration("BRANCHOPS_PROVIDER_RETRY_BACKOFF", 500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL:      env.String("BRANCHOPS_PROVIDER_BASE_URL", ""),
		Token:        env.String("BRANCHOPS_PROVIDER_TOKEN", ""),
		Timeout:      timeout,
		MaxRetries:   maxRetries,
		RetryBackoff: backoff,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("BRANCHOPS_PROVIDER_BASE_URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("BRANCHOPS_PROVIDER_BASE_URL: %w", err)
	}
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("BRANCHOPS_PROVIDER_TOKEN is required")
	}
	if c.Timeout <= 0 {
		return errors.New("BRANCHOPS_PROVIDER_TIMEOUT must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("BRANCHOPS_PROVIDER_MAX_RETRIES must be >= 0")
	}
	if c.RetryBackoff < 0 {
		return errors.New("BRANCHOPS_PROVIDER_RETRY_BACKOFF must be >= 0")
	}
	return nil
}

// RESTClient talks to the provider's branch API over HTTPS with a bearer
// token. It is a stateless proxy: it owns no branch state of its own.
type RESTClient struct {
	base       string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

func NewRESTClient(cfg Config) (*RESTClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(context.Background(), source)
	httpClient.Timeout = cfg.Timeout
	return &RESTClient{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
	}, nil
}

type branchWire struct {
	Name       string     `json:"name"`
	Parent     string     `json:"parent,omitempty"`
	Default    bool       `json:"default"`
	State      string     `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	TTLSeconds int64      `json:"ttl_seconds,omitempty"`
	SourceTime *time.Time `json:"source_time,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type createBranchWire struct {
	BranchID string         `json:"branch_id"`
	Spec     branchSpecWire `json:"spec"`
}

type branchSpecWire struct {
	SourceBranch string     `json:"source_branch"`
	TTLSeconds   int64      `json:"ttl_seconds,omitempty"`
	SourceTime   *time.Time `json:"source_branch_time,omitempty"`
}

type credentialWire struct {
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	Database   string    `json:"database"`
	User       string    `json:"user"`
	Token      string    `json:"token"`
	ExpireTime time.Time `json:"expire_time"`
}

type errorWire struct {
	Error string `json:"error"`
}

func (c *RESTClient) CreateBranch(ctx context.Context, req CreateBranchRequest) (domain.Branch, error) {
	if err := req.Validate(); err != nil {
		return domain.Branch{}, err
	}
	body := createBranchWire{
		BranchID: req.Name,
		Spec: branchSpecWire{
			SourceBranch: req.Parent,
			TTLSeconds:   int64(req.TTL / time.Second),
			SourceTime:   req.SourceTime,
		},
	}
	var wire branchWire
	path := fmt.Sprintf("/v1/projects/%s/branches", url.PathEscape(req.ProjectID))
	if err := c.do(ctx, http.MethodPost, path, body, &wire); err != nil {
		return domain.Branch{}, err
	}
	return branchFromWire(req.ProjectID, wire), nil
}

func (c *RESTClient) GetBranch(ctx context.Context, projectID, name string) (domain.Branch, error) {
	var wire branchWire
	if err := c.do(ctx, http.MethodGet, branchPath(projectID, name), nil, &wire); err != nil {
		return domain.Branch{}, err
	}
	return branchFromWire(projectID, wire), nil
}

func (c *RESTClient) ListBranches(ctx context.Context, projectID string) ([]domain.Branch, error) {
	var wire struct {
		Branches []branchWire `json:"branches"`
	}
	path := fmt.Sprintf("/v1/projects/%s/branches", url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	branches := make([]domain.Branch, 0, len(wire.Branches))
	for _, b := range wire.Branches {
		branches = append(branches, branchFromWire(projectID, b))
	}
	return branches, nil
}

func (c *RESTClient) ResetBranch(ctx context.Context, projectID, name string) (domain.Branch, error) {
	var wire branchWire
	if err := c.do(ctx, http.MethodPost, branchPath(projectID, name)+":reset", nil, &wire); err != nil {
		return domain.Branch{}, err
	}
	return branchFromWire(projectID, wire), nil
}

func (c *RESTClient) DeleteBranch(ctx context.Context, projectID, name string) error {
	err := c.do(ctx, http.MethodDelete, branchPath(projectID, name), nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (c *RESTClient) GenerateCredential(ctx context.Context, projectID, name string) (domain.Credential, error) {
	var wire credentialWire
	if err := c.do(ctx, http.MethodPost, branchPath(projectID, name)+"/credentials", nil, &wire); err != nil {
		return domain.Credential{}, err
	}
	return domain.Credential{
		Host:      wire.Host,
		Port:      wire.Port,
		Database:  wire.Database,
		User:      wire.User,
		Token:     wire.Token,
		ExpiresAt: wire.ExpireTime,
	}, nil
}

func branchPath(projectID, name string) string {
	return fmt.Sprintf("/v1/projects/%s/branches/%s", url.PathEscape(projectID), url.PathEscape(name))
}

func branchFromWire(projectID string, wire branchWire) domain.Branch {
	return domain.Branch{
		Name:       wire.Name,
		ProjectID:  projectID,
		Parent:     wire.Parent,
		Default:    wire.Default,
		State:      stateFromWire(wire.State),
		CreatedAt:  wire.CreatedAt,
		TTL:        time.Duration(wire.TTLSeconds) * time.Second,
		SourceTime: wire.SourceTime,
		ExpiresAt:  wire.ExpiresAt,
	}
}

func stateFromWire(state string) domain.BranchState {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "creating", "pending":
		return domain.BranchStateProvisioning
	case "ready", "active":
		return domain.BranchStateActive
	case "suspended", "idle":
		return domain.BranchStateSuspended
	case "expiring":
		return domain.BranchStateExpiring
	case "deleted":
		return domain.BranchStateDeleted
	default:
		return domain.BranchStateError
	}
}

// do issues one API call, retrying transient failures with linear backoff.
// Non-transient outcomes surface immediately.
func (c *RESTClient) do(ctx context.Context, method, path string, body any, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}
		lastErr = c.doOnce(ctx, method, path, body, out)
		if lastErr == nil || !errors.Is(lastErr, ErrUnavailable) {
			return lastErr
		}
	}
	return lastErr
}

func (c *RESTClient) doOnce(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var wire errorWire
	_ = json.Unmarshal(raw, &wire)
	return mapAPIError(resp.StatusCode, wire.Error)
}

func mapAPIError(status int, code string) error {
	switch code {
	case "name_conflict":
		return fmt.Errorf("%w", ErrNameConflict)
	case "branch_not_ready":
		return fmt.Errorf("%w", ErrBranchNotReady)
	case "not_found":
		return fmt.Errorf("%w", ErrNotFound)
	}
	switch status {
	case http.StatusConflict:
		return ErrNameConflict
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooEarly:
		return ErrBranchNotReady
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	default:
		return fmt.Errorf("provider api error: status %d %s", status, code)
	}
}
