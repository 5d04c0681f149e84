// Package remote is a locksvc.Service that talks to a lockd daemon.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/roach88/lockharness/internal/lockd"
	"github.com/roach88/lockharness/internal/locksvc"
)

// Option configures a remote service.
type Option func(*Service)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		s.http = c
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// Service proxies lock operations to a daemon at a base URL.
type Service struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger

	mu    sync.Mutex
	level locksvc.LogLevel
}

// New creates a client for the daemon at baseURL.
func New(baseURL string, opts ...Option) (*Service, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote url %q: scheme must be http or https", baseURL)
	}
	s := &Service{
		base:   u,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetLogLevel records the level; it is pushed to the daemon on the next Open.
func (s *Service) SetLogLevel(level locksvc.LogLevel) {
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}

// Open registers a connection with the daemon.
func (s *Service) Open(ctx context.Context, name string, mode locksvc.ConnMode) (locksvc.Connection, error) {
	var resp lockd.OpenConnectionResponse
	req := lockd.OpenConnectionRequest{Name: name, Mode: string(mode)}
	if err := s.call(ctx, http.MethodPost, lockd.PathConnections, "", req, &resp); err != nil {
		return nil, err
	}
	c := &connection{svc: s, name: name, id: resp.ConnectionID, token: resp.Token}

	s.mu.Lock()
	level := s.level
	s.mu.Unlock()
	if level != "" {
		if err := s.call(ctx, http.MethodPut, lockd.PathLogLevel, c.token, lockd.LogLevelRequest{Level: string(level)}, nil); err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
	}
	s.logger.Debug("remote connection opened", "name", name, "connection_id", c.id)
	return c, nil
}

// call sends one request. A nil out discards the response body.
func (s *Service) call(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return locksvc.Internal("encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.base.JoinPath(path).String(), body)
	if err != nil {
		return locksvc.Internal("build request", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return locksvc.Internal(method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return locksvc.Internal("decode response", err)
	}
	return nil
}

// decodeError rebuilds a *locksvc.Error from an error response. Codes the
// service does not know, such as auth failures, become INTERNAL.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body lockd.ErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return locksvc.Errorf(locksvc.CodeInternal, "unexpected status %d", resp.StatusCode)
	}
	code, err := locksvc.ParseCode(body.Code)
	if err != nil {
		return locksvc.Errorf(locksvc.CodeInternal, "%s: %s", body.Code, body.Message)
	}
	return &locksvc.Error{Code: code, Message: body.Message}
}

type connection struct {
	svc   *Service
	name  string
	id    string
	token string
}

func (c *connection) Name() string {
	return c.name
}

func (c *connection) OpenSession(ctx context.Context, ds locksvc.Datastore) (locksvc.Session, error) {
	var resp lockd.OpenSessionResponse
	if err := c.svc.call(ctx, http.MethodPost, lockd.PathSessions, c.token, lockd.OpenSessionRequest{Datastore: string(ds)}, &resp); err != nil {
		return nil, err
	}
	return &session{svc: c.svc, id: resp.SessionID, ds: locksvc.Datastore(resp.Datastore), token: resp.Token}, nil
}

func (c *connection) Close(ctx context.Context) error {
	err := c.svc.call(ctx, http.MethodPost, lockd.PathCloseConnection, c.token, nil, nil)
	if locksvc.CodeOf(err) == locksvc.CodeClosed {
		return nil
	}
	return err
}

type session struct {
	svc   *Service
	id    string
	ds    locksvc.Datastore
	token string
}

func (s *session) ID() string {
	return s.id
}

func (s *session) Datastore() locksvc.Datastore {
	return s.ds
}

func (s *session) LockDatastore(ctx context.Context) error {
	return s.svc.call(ctx, http.MethodPost, lockd.PathLockDatastore, s.token, nil, nil)
}

func (s *session) UnlockDatastore(ctx context.Context) error {
	return s.svc.call(ctx, http.MethodPost, lockd.PathUnlockDatastore, s.token, nil, nil)
}

func (s *session) LockModule(ctx context.Context, module string) error {
	return s.svc.call(ctx, http.MethodPost, lockd.PathLockModule, s.token, lockd.ModuleRequest{Module: module}, nil)
}

func (s *session) UnlockModule(ctx context.Context, module string) error {
	return s.svc.call(ctx, http.MethodPost, lockd.PathUnlockModule, s.token, lockd.ModuleRequest{Module: module}, nil)
}

func (s *session) Commit(ctx context.Context) error {
	return s.svc.call(ctx, http.MethodPost, lockd.PathCommit, s.token, nil, nil)
}

// Close releases the session's locks. Closing twice is not an error.
func (s *session) Close(ctx context.Context) error {
	err := s.svc.call(ctx, http.MethodPost, lockd.PathCloseSession, s.token, nil, nil)
	if locksvc.CodeOf(err) == locksvc.CodeClosed {
		return nil
	}
	return err
}
