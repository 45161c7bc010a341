package comfy

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

	"github.com/easel-labs/easel-go/internal/domain"
	"github.com/easel-labs/easel-go/internal/platform/env"
)

// Kind classifies an external-call failure.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindUnreachable Kind = "unreachable"
	KindInvalidJSON Kind = "invalid_json"
	KindUpstream    Kind = "upstream_error"
)

// CallError is a transport- or protocol-level failure talking to the
// compute engine. The Kind is recorded verbatim as a run error message.
type CallError struct {
	Kind Kind
	Err  error
}

func (e *CallError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// ErrPromptIDMissing marks a 200 submission response without a job id.
var ErrPromptIDMissing = errors.New("prompt_id_missing")

// PromptRejectedError is an application-level error embedded in an
// otherwise successful submission response.
type PromptRejectedError struct {
	Message string
}

func (e *PromptRejectedError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return "prompt_error"
	}
	return "prompt_error: " + e.Message
}

type Config struct {
	BaseURL     string
	CallTimeout time.Duration
	ViewTimeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	callTimeout, err := env.Duration("EASEL_COMFY_CALL_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	viewTimeout, err := env.Duration("EASEL_COMFY_VIEW_TIMEOUT", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL:     env.String("EASEL_COMFY_URL", "http://localhost:8188"),
		CallTimeout: callTimeout,
		ViewTimeout: viewTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("EASEL_COMFY_URL is required")
	}
	if c.CallTimeout <= 0 {
		return errors.New("EASEL_COMFY_CALL_TIMEOUT must be positive")
	}
	if c.ViewTimeout <= 0 {
		return errors.New("EASEL_COMFY_VIEW_TIMEOUT must be positive")
	}
	return nil
}

// Client talks to a ComfyUI-compatible queue/history HTTP surface.
type Client struct {
	baseURL     string
	callTimeout time.Duration
	viewTimeout time.Duration
	http        *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		callTimeout: cfg.CallTimeout,
		viewTimeout: cfg.ViewTimeout,
		http:        &http.Client{},
	}, nil
}

// SubmitPrompt posts a patched graph to the queue and returns the
// external job id.
func (c *Client) SubmitPrompt(ctx context.Context, graph domain.Graph) (string, error) {
	body, err := json.Marshal(map[string]any{"prompt": graph})
	if err != nil {
		return "", fmt.Errorf("marshal prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out map[string]any
	if err := c.do(req, &out); err != nil {
		return "", err
	}

	if msg, ok := embeddedError(out); ok {
		return "", &PromptRejectedError{Message: msg}
	}
	promptID, _ := out["prompt_id"].(string)
	promptID = strings.TrimSpace(promptID)
	if promptID == "" {
		return "", ErrPromptIDMissing
	}
	return promptID, nil
}

// QueueSnapshot is the engine queue at one poll: running and pending
// job ids, defensively extracted.
type QueueSnapshot struct {
	Running []string
	Pending []string
}

// QueuePosition classifies a job id against a queue snapshot.
type QueuePosition string

const (
	QueueRunning QueuePosition = "running"
	QueuePending QueuePosition = "queued"
	QueueAbsent  QueuePosition = "absent"
)

func (q QueueSnapshot) Classify(promptID string) QueuePosition {
	for _, id := range q.Running {
		if id == promptID {
			return QueueRunning
		}
	}
	for _, id := range q.Pending {
		if id == promptID {
			return QueuePending
		}
	}
	return QueueAbsent
}

// Queue fetches the running/pending job lists. Each raw entry is either
// a job id string, a tuple containing one, or an object carrying one.
func (c *Client) Queue(ctx context.Context) (QueueSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/queue", nil)
	if err != nil {
		return QueueSnapshot{}, err
	}

	var out struct {
		Running []any `json:"queue_running"`
		Pending []any `json:"queue_pending"`
	}
	if err := c.do(req, &out); err != nil {
		return QueueSnapshot{}, err
	}

	return QueueSnapshot{
		Running: extractJobIDs(out.Running),
		Pending: extractJobIDs(out.Pending),
	}, nil
}

// History fetches the history entry for one job id. The engine responds
// with either a map keyed by job id or a single object carrying it; an
// empty object means the entry does not exist yet.
func (c *Client) History(ctx context.Context, promptID string) (domain.Metadata, bool, error) {
	promptID = strings.TrimSpace(promptID)
	if promptID == "" {
		return nil, false, errors.New("prompt id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, false, err
	}

	var out map[string]any
	if err := c.do(req, &out); err != nil {
		return nil, false, err
	}
	if len(out) == 0 {
		return nil, false, nil
	}

	if entry, ok := out[promptID].(map[string]any); ok {
		return domain.Metadata(entry), true, nil
	}
	if id, ok := out["prompt_id"].(string); ok && strings.TrimSpace(id) == promptID {
		return domain.Metadata(out), true, nil
	}
	return nil, false, nil
}

// View streams one artifact. The caller owns the returned body; the
// second return value is the upstream content type, passed through.
func (c *Client) View(ctx context.Context, filename, subfolder, artifactType string) (io.ReadCloser, string, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, "", errors.New("filename is required")
	}

	query := url.Values{}
	query.Set("filename", filename)
	if strings.TrimSpace(subfolder) != "" {
		query.Set("subfolder", strings.TrimSpace(subfolder))
	}
	if strings.TrimSpace(artifactType) != "" {
		query.Set("type", strings.TrimSpace(artifactType))
	}

	ctx, cancel := context.WithTimeout(ctx, c.viewTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+query.Encode(), nil)
	if err != nil {
		cancel()
		return nil, "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, "", c.transportError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		cancel()
		return nil, "", &CallError{Kind: KindUpstream, Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}
	return &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}, resp.Header.Get("Content-Type"), nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(req.Context(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return c.transportError(req.Context(), err)
	}

	if resp.StatusCode != http.StatusOK {
		return &CallError{Kind: KindUpstream, Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &CallError{Kind: KindInvalidJSON, Err: err}
	}
	return nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &CallError{Kind: KindTimeout, Err: err}
	}
	return &CallError{Kind: KindUnreachable, Err: err}
}

func embeddedError(resp map[string]any) (string, bool) {
	raw, ok := resp["error"]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	case map[string]any:
		if msg, ok := v["message"].(string); ok && strings.TrimSpace(msg) != "" {
			return strings.TrimSpace(msg), true
		}
		if typ, ok := v["type"].(string); ok && strings.TrimSpace(typ) != "" {
			return strings.TrimSpace(typ), true
		}
		return "prompt rejected", true
	default:
		return "prompt rejected", true
	}
}

func extractJobIDs(entries []any) []string {
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if id, ok := extractJobID(entry); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// extractJobID digs a job id out of one queue entry. Tuple entries carry
// the id as their first string element; object entries under a
// prompt_id or id key.
func extractJobID(entry any) (string, bool) {
	switch v := entry.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s), true
			}
		}
		return "", false
	case map[string]any:
		for _, key := range []string{"prompt_id", "id"} {
			if s, ok := v[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s), true
			}
		}
		return "", false
	default:
		return "", false
	}
}
