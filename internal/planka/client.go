package planka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "plankabot/pkg/logx"
)

var (
	ErrUnauthorized = errors.New("planka: unauthorized")
	ErrNotFound     = errors.New("planka: not found")
)

// Config controls the client. Zero values fall back to defaults.
type Config struct {
	BaseURL  string
	Username string
	Password string

	Timeout    time.Duration // per HTTP request; default 30s
	RetryMax   int           // retries after the first attempt; default 3
	RetryDelay time.Duration // base wait between attempts; default 3s
	RatePerSec float64       // shared request budget; 0 disables limiting
}

// StatusError is a non-2xx response the client did not map to a sentinel.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("planka: %s %s: http %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("planka: %s %s: http %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client talks to one Planka server as one user. Clients derived with
// WithCredentials share the HTTP transport and the rate limiter.
type Client struct {
	base    string
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger

	login    string
	password string

	mu    sync.Mutex
	token string
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("planka: base url is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	} else if cfg.RetryMax == 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 3 * time.Second
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := max(int(cfg.RatePerSec), 1)
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return &Client{
		base:     base,
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  lim,
		log:      log,
		login:    cfg.Username,
		password: cfg.Password,
	}, nil
}

// WithCredentials returns a client acting as another Planka user.
func (c *Client) WithCredentials(login, password string) *Client {
	return &Client{
		base:     c.base,
		cfg:      c.cfg,
		http:     c.http,
		limiter:  c.limiter,
		log:      c.log,
		login:    login,
		password: password,
	}
}

// Login exchanges the credentials for an access token.
func (c *Client) Login(ctx context.Context) error {
	var out tokenResponse
	err := c.roundTrip(ctx, http.MethodPost, "/api/access-tokens", "",
		loginRequest{EmailOrUsername: c.login, Password: c.password}, &out)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Code == http.StatusBadRequest || se.Code == http.StatusForbidden) {
			// Planka answers bad credentials with 400/401/403 depending on version.
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return err
	}
	if out.Item == "" {
		return errors.New("planka: login returned empty token")
	}
	c.mu.Lock()
	c.token = out.Item
	c.mu.Unlock()
	c.log.Debug("planka login ok", logx.String("login", c.login))
	return nil
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) clearToken(tok string) {
	c.mu.Lock()
	if c.token == tok {
		c.token = ""
	}
	c.mu.Unlock()
}

// get performs an authenticated GET. A 401 drops the token, logs in again
// and repeats the request once.
func (c *Client) get(ctx context.Context, path string, out any) error {
	for relogin := 0; ; relogin++ {
		tok := c.currentToken()
		if tok == "" {
			if err := c.Login(ctx); err != nil {
				return err
			}
			tok = c.currentToken()
		}
		err := c.roundTrip(ctx, http.MethodGet, path, tok, nil, out)
		if !errors.Is(err, ErrUnauthorized) || relogin > 0 {
			return err
		}
		c.log.Debug("planka token rejected; logging in again", logx.String("login", c.login))
		c.clearToken(tok)
	}
}

// roundTrip sends one request with retries on transport errors and 5xx.
func (c *Client) roundTrip(ctx context.Context, method, path, token string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("planka: encode request: %w", err)
		}
		payload = b
	}

	attempts := 1 + c.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		err := c.once(ctx, method, path, token, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || attempt == attempts {
			break
		}
		d := retryDelay(c.cfg.RetryDelay)
		c.log.Warn("planka request failed; retrying",
			logx.String("method", method),
			logx.String("path", path),
			logx.Int("attempt", attempt),
			logx.Duration("delay", d),
			logx.Err(err),
		)
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path, token string, payload []byte, out any) error {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("planka: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("planka: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("planka: read body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: snippet(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("planka: decode %s: %w", path, err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe) || errors.Is(err, io.ErrUnexpectedEOF)
}

func retryDelay(base time.Duration) time.Duration {
	return time.Duration(float64(base) * (0.7 + rand.Float64()*0.6))
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
