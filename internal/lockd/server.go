package lockd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/roach88/lockharness/internal/locksvc"
)

const codeUnauthenticated = "UNAUTHENTICATED"

// Route paths shared with the remote client.
const (
	PathHealth          = "/healthz"
	PathConnections     = "/v1/connections"
	PathSessions        = "/v1/connection/sessions"
	PathLogLevel        = "/v1/connection/log-level"
	PathCloseConnection = "/v1/connection/close"
	PathLockDatastore   = "/v1/session/lock-datastore"
	PathUnlockDatastore = "/v1/session/unlock-datastore"
	PathLockModule      = "/v1/session/lock-module"
	PathUnlockModule    = "/v1/session/unlock-module"
	PathCommit          = "/v1/session/commit"
	PathCloseSession    = "/v1/session/close"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Request and response bodies. The remote client shares these shapes.
type (
	OpenConnectionRequest struct {
		Name string `json:"name"`
		Mode string `json:"mode"`
	}
	OpenConnectionResponse struct {
		ConnectionID string `json:"connection_id"`
		Name         string `json:"name"`
		Token        string `json:"token"`
	}
	OpenSessionRequest struct {
		Datastore string `json:"datastore"`
	}
	OpenSessionResponse struct {
		SessionID string `json:"session_id"`
		Datastore string `json:"datastore"`
		Token     string `json:"token"`
	}
	ModuleRequest struct {
		Module string `json:"module"`
	}
	LogLevelRequest struct {
		Level string `json:"level"`
	}
)

type connEntry struct {
	conn     locksvc.Connection
	sessions map[string]struct{}
}

type sessionEntry struct {
	sess   locksvc.Session
	connID string
}

// Server exposes a locksvc.Service over HTTP. Connections and sessions live
// in the server; clients hold signed tokens that name them.
type Server struct {
	svc    locksvc.Service
	tokens *Tokens
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	conns    map[string]*connEntry
	sessions map[string]*sessionEntry
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces time.Now for token issuance and verification.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a server around svc.
func New(svc locksvc.Service, tokens *Tokens, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:      svc,
		tokens:   tokens,
		logger:   logger,
		now:      time.Now,
		conns:    make(map[string]*connEntry),
		sessions: make(map[string]*sessionEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger))

	r.GET(PathHealth, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST(PathConnections, s.openConnection)

	conn := r.Group("", requireToken(s.tokens, TokenConnection, s.now))
	conn.POST(PathSessions, s.openSession)
	conn.PUT(PathLogLevel, s.setLogLevel)
	conn.POST(PathCloseConnection, s.closeConnection)

	sess := r.Group("", requireToken(s.tokens, TokenSession, s.now))
	sess.POST(PathLockDatastore, s.sessionOp(func(ctx context.Context, ss locksvc.Session, _ string) error {
		return ss.LockDatastore(ctx)
	}, false))
	sess.POST(PathUnlockDatastore, s.sessionOp(func(ctx context.Context, ss locksvc.Session, _ string) error {
		return ss.UnlockDatastore(ctx)
	}, false))
	sess.POST(PathLockModule, s.sessionOp(func(ctx context.Context, ss locksvc.Session, module string) error {
		return ss.LockModule(ctx, module)
	}, true))
	sess.POST(PathUnlockModule, s.sessionOp(func(ctx context.Context, ss locksvc.Session, module string) error {
		return ss.UnlockModule(ctx, module)
	}, true))
	sess.POST(PathCommit, s.sessionOp(func(ctx context.Context, ss locksvc.Session, _ string) error {
		return ss.Commit(ctx)
	}, false))
	sess.POST(PathCloseSession, s.closeSession)

	return r
}

func (s *Server) openConnection(c *gin.Context) {
	var req OpenConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, locksvc.Errorf(locksvc.CodeInvalidArgument, "invalid json"))
		return
	}

	mode, err := locksvc.ParseConnMode(req.Mode)
	if err != nil {
		writeError(c, &locksvc.Error{Code: locksvc.CodeInvalidArgument, Message: err.Error()})
		return
	}
	conn, err := s.svc.Open(c.Request.Context(), req.Name, mode)
	if err != nil {
		writeError(c, err)
		return
	}

	id := uuid.NewString()
	token, err := s.tokens.Issue(s.now(), TokenConnection, id, "")
	if err != nil {
		_ = conn.Close(c.Request.Context())
		writeError(c, locksvc.Internal("token issuance failed", err))
		return
	}

	s.mu.Lock()
	s.conns[id] = &connEntry{conn: conn, sessions: make(map[string]struct{})}
	s.mu.Unlock()

	loggerFrom(c).Debug("connection opened", "connection_id", id, "name", req.Name, "mode", mode)
	c.JSON(http.StatusCreated, OpenConnectionResponse{ConnectionID: id, Name: req.Name, Token: token})
}

func (s *Server) lookupConn(c *gin.Context) (string, *connEntry, bool) {
	id := claimsFrom(c).ConnectionID
	s.mu.Lock()
	entry, ok := s.conns[id]
	s.mu.Unlock()
	if !ok {
		writeError(c, locksvc.Errorf(locksvc.CodeClosed, "connection is closed"))
		return "", nil, false
	}
	return id, entry, true
}

func (s *Server) openSession(c *gin.Context) {
	connID, entry, ok := s.lookupConn(c)
	if !ok {
		return
	}

	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, locksvc.Errorf(locksvc.CodeInvalidArgument, "invalid json"))
		return
	}
	ds, err := locksvc.ParseDatastore(req.Datastore)
	if err != nil {
		writeError(c, &locksvc.Error{Code: locksvc.CodeInvalidArgument, Message: err.Error()})
		return
	}

	sess, err := entry.conn.OpenSession(c.Request.Context(), ds)
	if err != nil {
		writeError(c, err)
		return
	}
	token, err := s.tokens.Issue(s.now(), TokenSession, connID, sess.ID())
	if err != nil {
		_ = sess.Close(c.Request.Context())
		writeError(c, locksvc.Internal("token issuance failed", err))
		return
	}

	s.mu.Lock()
	s.sessions[sess.ID()] = &sessionEntry{sess: sess, connID: connID}
	entry.sessions[sess.ID()] = struct{}{}
	s.mu.Unlock()

	c.JSON(http.StatusCreated, OpenSessionResponse{SessionID: sess.ID(), Datastore: string(ds), Token: token})
}

func (s *Server) setLogLevel(c *gin.Context) {
	if _, _, ok := s.lookupConn(c); !ok {
		return
	}
	var req LogLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, locksvc.Errorf(locksvc.CodeInvalidArgument, "invalid json"))
		return
	}
	level, err := locksvc.ParseLogLevel(req.Level)
	if err != nil {
		writeError(c, &locksvc.Error{Code: locksvc.CodeInvalidArgument, Message: err.Error()})
		return
	}
	s.svc.SetLogLevel(level)
	c.Status(http.StatusNoContent)
}

func (s *Server) closeConnection(c *gin.Context) {
	id := claimsFrom(c).ConnectionID

	s.mu.Lock()
	entry, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
		for sid := range entry.sessions {
			delete(s.sessions, sid)
		}
	}
	s.mu.Unlock()

	if !ok {
		writeError(c, locksvc.Errorf(locksvc.CodeClosed, "connection is closed"))
		return
	}
	if err := entry.conn.Close(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) lookupSession(c *gin.Context) (*sessionEntry, bool) {
	claims := claimsFrom(c)
	s.mu.Lock()
	entry, ok := s.sessions[claims.SessionID]
	s.mu.Unlock()
	if !ok || entry.connID != claims.ConnectionID {
		writeError(c, locksvc.Errorf(locksvc.CodeClosed, "session is closed"))
		return nil, false
	}
	return entry, true
}

type sessionFunc func(ctx context.Context, sess locksvc.Session, module string) error

// sessionOp adapts one session primitive into a handler. withModule reads
// the module name from the request body.
func (s *Server) sessionOp(fn sessionFunc, withModule bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, ok := s.lookupSession(c)
		if !ok {
			return
		}
		var module string
		if withModule {
			var req ModuleRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				writeError(c, locksvc.Errorf(locksvc.CodeInvalidArgument, "invalid json"))
				return
			}
			module = req.Module
		}
		if err := fn(c.Request.Context(), entry.sess, module); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) closeSession(c *gin.Context) {
	entry, ok := s.lookupSession(c)
	if !ok {
		return
	}
	sid := entry.sess.ID()

	s.mu.Lock()
	delete(s.sessions, sid)
	if ce, ok := s.conns[entry.connID]; ok {
		delete(ce.sessions, sid)
	}
	s.mu.Unlock()

	if err := entry.sess.Close(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Close drops every open connection, releasing all locks they hold.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[string]*connEntry)
	s.sessions = make(map[string]*sessionEntry)
	s.mu.Unlock()

	var errs []error
	for id, entry := range conns {
		if err := entry.conn.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close connection %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// ListenAndServe serves on addr until ctx is done, then shuts down and
// closes every connection.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("lockd listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown failed: %w", err))
	}
	if err := s.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// statusFor maps service error codes onto HTTP statuses.
func statusFor(code locksvc.Code) int {
	switch code {
	case locksvc.CodeConflict:
		return http.StatusConflict
	case locksvc.CodeNotHeld:
		return http.StatusPreconditionFailed
	case locksvc.CodeInvalidArgument:
		return http.StatusBadRequest
	case locksvc.CodeClosed:
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	code := locksvc.CodeOf(err)
	msg := err.Error()
	var le *locksvc.Error
	if errors.As(err, &le) {
		msg = le.Message
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(code), ErrorBody{Code: string(code), Message: msg})
}
