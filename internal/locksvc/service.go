package locksvc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Service opens connections to the locking service.
type Service interface {
	// Open establishes a connection on behalf of the named client.
	Open(ctx context.Context, name string, mode ConnMode) (Connection, error)

	// SetLogLevel changes diagnostic verbosity. It never affects lock semantics.
	SetLogLevel(level LogLevel)
}

// Connection is one client's link to the service.
type Connection interface {
	Name() string
	OpenSession(ctx context.Context, ds Datastore) (Session, error)
	// Close closes every session opened on the connection.
	Close(ctx context.Context) error
}

// Session performs lock operations against a single datastore.
// A session is owned by one goroutine; implementations are not required to
// serialize concurrent calls on the same session.
type Session interface {
	ID() string
	Datastore() Datastore
	LockDatastore(ctx context.Context) error
	UnlockDatastore(ctx context.Context) error
	LockModule(ctx context.Context, module string) error
	UnlockModule(ctx context.Context, module string) error
	Commit(ctx context.Context) error
	// Close releases every lock the session still holds.
	Close(ctx context.Context) error
}

// Table is the lock bookkeeping a backend provides.
// Owners are session IDs.
type Table interface {
	// Acquire records owner as the holder of key, or fails with CONFLICT if key is held.
	Acquire(ctx context.Context, key Key, owner string) error

	// Release drops owner's hold on key, or fails with NOT_HELD.
	Release(ctx context.Context, key Key, owner string) error

	// ReleaseAll drops every key held by owner. Holding nothing is not an error.
	ReleaseAll(ctx context.Context, owner string) error

	// HeldByOthers reports whether any key in ds is held by someone other than owner.
	HeldByOthers(ctx context.Context, ds Datastore, owner string) (bool, error)
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator generates random UUIDv4 session IDs.
type UUIDGenerator struct{}

// Generate returns a new UUID string.
func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}

// Option configures a service built by NewService.
type Option func(*service)

// WithLogOutput sends service diagnostics to w as slog text records.
// The level is governed by SetLogLevel.
func WithLogOutput(w io.Writer) Option {
	return func(s *service) {
		s.logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: s.level}))
	}
}

// WithIDGenerator overrides session ID generation (deterministic IDs in tests).
func WithIDGenerator(g IDGenerator) Option {
	return func(s *service) {
		s.ids = g
	}
}

// WithDaemon marks the service as daemon-backed, which allows ConnDaemonRequired connections.
func WithDaemon() Option {
	return func(s *service) {
		s.daemon = true
	}
}

type service struct {
	table  Table
	ids    IDGenerator
	level  *slog.LevelVar
	logger *slog.Logger
	daemon bool
}

// NewService builds the connection and session layer over table.
func NewService(table Table, opts ...Option) Service {
	s := &service{
		table: table,
		ids:   UUIDGenerator{},
		level: new(slog.LevelVar),
	}
	s.level.Set(LogInfo.SlogLevel())
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) SetLogLevel(level LogLevel) {
	s.level.Set(level.SlogLevel())
}

func (s *service) Open(ctx context.Context, name string, mode ConnMode) (Connection, error) {
	if name == "" {
		return nil, Errorf(CodeInvalidArgument, "connection name is required")
	}
	if _, err := ParseConnMode(string(mode)); err != nil {
		return nil, &Error{Code: CodeInvalidArgument, Message: "open connection", Err: err}
	}
	if mode == ConnDaemonRequired && !s.daemon {
		return nil, Errorf(CodeInvalidArgument, "connection mode %s requires a lock daemon", mode)
	}
	s.logger.Debug("connection opened", "name", name, "mode", mode)
	return &connection{svc: s, name: name, sessions: make(map[string]*session)}, nil
}

type connection struct {
	svc  *service
	name string

	mu       sync.Mutex
	closed   bool
	sessions map[string]*session
}

func (c *connection) Name() string {
	return c.name
}

func (c *connection) OpenSession(ctx context.Context, ds Datastore) (Session, error) {
	if _, err := ParseDatastore(string(ds)); err != nil {
		return nil, &Error{Code: CodeInvalidArgument, Message: "open session", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, Errorf(CodeClosed, "connection %s is closed", c.name)
	}

	sess := &session{conn: c, id: c.svc.ids.Generate(), ds: ds}
	c.sessions[sess.id] = sess
	c.svc.logger.Debug("session started", "connection", c.name, "session", sess.id, "datastore", ds)
	return sess, nil
}

func (c *connection) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		if err := s.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.svc.logger.Debug("connection closed", "name", c.name)
	return firstErr
}

func (c *connection) forget(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

type session struct {
	conn *connection
	id   string
	ds   Datastore

	mu     sync.Mutex
	closed bool
}

func (s *session) ID() string {
	return s.id
}

func (s *session) Datastore() Datastore {
	return s.ds
}

func (s *session) LockDatastore(ctx context.Context) error {
	return s.acquire(ctx, Key{Datastore: s.ds})
}

func (s *session) UnlockDatastore(ctx context.Context) error {
	return s.release(ctx, Key{Datastore: s.ds})
}

func (s *session) LockModule(ctx context.Context, module string) error {
	if module == "" {
		return Errorf(CodeInvalidArgument, "module name is required")
	}
	return s.acquire(ctx, Key{Datastore: s.ds, Module: module})
}

func (s *session) UnlockModule(ctx context.Context, module string) error {
	if module == "" {
		return Errorf(CodeInvalidArgument, "module name is required")
	}
	return s.release(ctx, Key{Datastore: s.ds, Module: module})
}

func (s *session) Commit(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	locked, err := s.conn.svc.table.HeldByOthers(ctx, s.ds, s.id)
	if err != nil {
		return wrapInternal("commit", err)
	}
	if locked {
		s.conn.svc.logger.Info("commit refused", "session", s.id, "datastore", s.ds)
		return Errorf(CodeConflict, "datastore %s is locked by another session", s.ds)
	}
	s.conn.svc.logger.Debug("commit", "session", s.id, "datastore", s.ds)
	return nil
}

func (s *session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.conn.forget(s.id)
	if err := s.conn.svc.table.ReleaseAll(ctx, s.id); err != nil {
		return wrapInternal("release session locks", err)
	}
	s.conn.svc.logger.Debug("session stopped", "session", s.id)
	return nil
}

func (s *session) acquire(ctx context.Context, key Key) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.conn.svc.table.Acquire(ctx, key, s.id); err != nil {
		s.conn.svc.logger.Info("lock refused", "session", s.id, "key", key.String(), "error", err)
		return wrapInternal("acquire "+key.String(), err)
	}
	s.conn.svc.logger.Debug("locked", "session", s.id, "key", key.String())
	return nil
}

func (s *session) release(ctx context.Context, key Key) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.conn.svc.table.Release(ctx, key, s.id); err != nil {
		s.conn.svc.logger.Info("unlock refused", "session", s.id, "key", key.String(), "error", err)
		return wrapInternal("release "+key.String(), err)
	}
	s.conn.svc.logger.Debug("unlocked", "session", s.id, "key", key.String())
	return nil
}

func (s *session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Errorf(CodeClosed, "session %s is closed", s.id)
	}
	return nil
}

// wrapInternal passes *Error values through and wraps anything else as INTERNAL.
func wrapInternal(message string, err error) error {
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	return Internal(message, err)
}
