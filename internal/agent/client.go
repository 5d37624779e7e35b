package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	logx "autoposter/pkg/logx"
)

type Config struct {
	Endpoint      string
	Strategies    []string
	RatePerSec    float64
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	Timeout       time.Duration // per HTTP attempt
	HTTPClient    *http.Client
}

// StepError is a well-formed answer reporting that the step did not succeed.
type StepError struct{ Message string }

func (e *StepError) Error() string {
	if e.Message == "" {
		return "step failed"
	}
	return e.Message
}

type Client struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	cfg      Config
	log      logx.Logger
	now      func() time.Time
}

type request struct {
	RequestID string         `json:"request_id"`
	Strategy  string         `json:"strategy,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
}

type response struct {
	OK     bool   `json:"ok"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

func NewClient(cfg Config, log logx.Logger) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("agent endpoint required")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	burst := max(int(cfg.RatePerSec), 1)
	return &Client{
		endpoint: endpoint,
		http:     hc,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}, nil
}

// call performs action and retries throttled answers up to RetryMax times.
func (c *Client) call(ctx context.Context, action, strategy string, args map[string]any) (response, error) {
	req := request{RequestID: uuid.NewString(), Strategy: strategy, Args: args}
	body, err := json.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("agent %s: marshal: %w", action, err)
	}
	log := c.log.With(logx.String("action", action), logx.String("request_id", req.RequestID))
	if strategy != "" {
		log = log.With(logx.String("strategy", strategy))
	}

	attempts := c.cfg.RetryMax + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return response{}, err
		}
		resp, err := c.once(ctx, action, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		hint, ok := isRetryable(err)
		if !ok || attempt == attempts {
			break
		}
		wait := backoff(c.cfg.RetryBase, c.cfg.RetryMaxDelay, attempt, hint)
		log.Debug("sidecar throttled; retrying", logx.Int("attempt", attempt), logx.Duration("wait", wait), logx.Err(err))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return response{}, ctx.Err()
		case <-t.C:
		}
	}
	return response{}, fmt.Errorf("agent %s: %w", action, lastErr)
}

func (c *Client) once(ctx context.Context, action string, body []byte) (response, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	hreq, err := http.NewRequestWithContext(actx, http.MethodPost, c.endpoint+"/v1/"+action, bytes.NewReader(body))
	if err != nil {
		return response{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")

	hresp, err := c.http.Do(hreq)
	if err != nil {
		return response{}, err
	}
	defer hresp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(hresp.Body, 1<<20))
	if err != nil {
		return response{}, err
	}
	var out response
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && hresp.StatusCode < 300 {
			return response{}, fmt.Errorf("decode answer: %w", err)
		}
	}
	if hresp.StatusCode < 200 || hresp.StatusCode > 299 {
		return response{}, &StatusError{
			Code:       hresp.StatusCode,
			Message:    out.Error,
			RetryAfter: parseRetryAfter(hresp.Header.Get("Retry-After"), c.now()),
		}
	}
	if !out.OK {
		return out, &StepError{Message: out.Error}
	}
	return out, nil
}

// Strategy returns the posting agent bound to one named strategy.
func (c *Client) Strategy(name string) *StrategyAgent {
	return &StrategyAgent{c: c, name: name}
}

// StrategyAgent drives the posting steps through one sidecar strategy.
type StrategyAgent struct {
	c    *Client
	name string
}

func (a *StrategyAgent) step(ctx context.Context, action string, args map[string]any) error {
	_, err := a.c.call(ctx, action, a.name, args)
	return err
}

func (a *StrategyAgent) OpenComposer(ctx context.Context) error {
	return a.step(ctx, "composer/open", nil)
}

func (a *StrategyAgent) UploadMedia(ctx context.Context, paths []string) error {
	return a.step(ctx, "composer/media", map[string]any{"paths": paths})
}

func (a *StrategyAgent) Advance(ctx context.Context) error {
	return a.step(ctx, "composer/advance", nil)
}

func (a *StrategyAgent) SetCaption(ctx context.Context, text string) error {
	return a.step(ctx, "composer/caption", map[string]any{"text": text})
}

func (a *StrategyAgent) SubmitPost(ctx context.Context) error {
	return a.step(ctx, "composer/submit", nil)
}
