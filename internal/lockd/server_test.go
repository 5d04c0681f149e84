package lockd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockharness/internal/locksvc"
	"github.com/roach88/lockharness/internal/locksvc/memory"
	"github.com/roach88/lockharness/internal/testutil"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens, err := NewTokens("test-secret", "lockd", time.Hour)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(memory.NewService(locksvc.WithDaemon()), tokens, logger)
	t.Cleanup(func() { _ = srv.Close(context.Background()) })
	return srv, srv.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(authorizationHeader, bearerPrefix+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func openConn(t *testing.T, h http.Handler, name, mode string) OpenConnectionResponse {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, PathConnections, "", OpenConnectionRequest{Name: name, Mode: mode})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp OpenConnectionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func openSess(t *testing.T, h http.Handler, connToken, ds string) OpenSessionResponse {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, PathSessions, connToken, OpenSessionRequest{Datastore: ds})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp OpenSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	_, h := newTestServer(t)

	w := doJSON(t, h, http.MethodGet, PathHealth, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
}

func TestRequestIDIsEchoed(t *testing.T) {
	_, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, PathHealth, nil)
	req.Header.Set(headerRequestID, "rid-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "rid-42", w.Header().Get(headerRequestID))
}

func TestOpenConnection_Validation(t *testing.T) {
	_, h := newTestServer(t)

	w := doJSON(t, h, http.MethodPost, PathConnections, "", OpenConnectionRequest{Name: "", Mode: "default"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(locksvc.CodeInvalidArgument), decodeError(t, w).Code)

	w = doJSON(t, h, http.MethodPost, PathConnections, "", OpenConnectionRequest{Name: "a", Mode: "sideways"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := openConn(t, h, "a", string(locksvc.ConnDaemonRequired))
	assert.NotEmpty(t, resp.Token)
	assert.NotEmpty(t, resp.ConnectionID)
}

func TestSessionRoutesRequireSessionToken(t *testing.T) {
	_, h := newTestServer(t)
	conn := openConn(t, h, "first", "default")

	w := doJSON(t, h, http.MethodPost, PathLockDatastore, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, codeUnauthenticated, decodeError(t, w).Code)

	w = doJSON(t, h, http.MethodPost, PathLockDatastore, conn.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	sess := openSess(t, h, conn.Token, "startup")
	w = doJSON(t, h, http.MethodPost, PathSessions, sess.Token, OpenSessionRequest{Datastore: "startup"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDatastoreLockConflictOverHTTP(t *testing.T) {
	_, h := newTestServer(t)
	first := openSess(t, h, openConn(t, h, "first", "default").Token, "startup")
	second := openSess(t, h, openConn(t, h, "second", "default").Token, "startup")
	assert.Equal(t, "startup", first.Datastore)

	w := doJSON(t, h, http.MethodPost, PathLockDatastore, first.Token, nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodPost, PathLockDatastore, second.Token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(locksvc.CodeConflict), decodeError(t, w).Code)

	w = doJSON(t, h, http.MethodPost, PathUnlockDatastore, first.Token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, h, http.MethodPost, PathLockDatastore, second.Token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestModuleLockAndNotHeld(t *testing.T) {
	_, h := newTestServer(t)
	first := openSess(t, h, openConn(t, h, "first", "default").Token, "running")
	second := openSess(t, h, openConn(t, h, "second", "default").Token, "running")

	w := doJSON(t, h, http.MethodPost, PathLockModule, first.Token, ModuleRequest{Module: "example-module"})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodPost, PathLockModule, second.Token, ModuleRequest{Module: "example-module"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, h, http.MethodPost, PathUnlockModule, second.Token, ModuleRequest{Module: "example-module"})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Equal(t, string(locksvc.CodeNotHeld), decodeError(t, w).Code)

	w = doJSON(t, h, http.MethodPost, PathLockModule, second.Token, ModuleRequest{Module: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCloseConnectionReleasesLocks(t *testing.T) {
	_, h := newTestServer(t)
	firstConn := openConn(t, h, "first", "default")
	first := openSess(t, h, firstConn.Token, "startup")
	second := openSess(t, h, openConn(t, h, "second", "default").Token, "startup")

	w := doJSON(t, h, http.MethodPost, PathLockDatastore, first.Token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, h, http.MethodPost, PathCloseConnection, firstConn.Token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, h, http.MethodPost, PathLockDatastore, first.Token, nil)
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, string(locksvc.CodeClosed), decodeError(t, w).Code)

	w = doJSON(t, h, http.MethodPost, PathLockDatastore, second.Token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCloseSession(t *testing.T) {
	_, h := newTestServer(t)
	conn := openConn(t, h, "first", "default")
	sess := openSess(t, h, conn.Token, "candidate")

	w := doJSON(t, h, http.MethodPost, PathCloseSession, sess.Token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, h, http.MethodPost, PathCommit, sess.Token, nil)
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestCommitConflictsWithForeignLock(t *testing.T) {
	_, h := newTestServer(t)
	first := openSess(t, h, openConn(t, h, "first", "default").Token, "running")
	second := openSess(t, h, openConn(t, h, "second", "default").Token, "running")

	w := doJSON(t, h, http.MethodPost, PathLockDatastore, first.Token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, h, http.MethodPost, PathCommit, second.Token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, h, http.MethodPost, PathCommit, first.Token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSetLogLevel(t *testing.T) {
	_, h := newTestServer(t)
	conn := openConn(t, h, "first", "default")

	w := doJSON(t, h, http.MethodPut, PathLogLevel, conn.Token, LogLevelRequest{Level: "debug"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, h, http.MethodPut, PathLogLevel, conn.Token, LogLevelRequest{Level: "loud"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExpiredTokenRejected(t *testing.T) {
	srv, h := newTestServer(t)
	conn := openConn(t, h, "first", "default")

	stale, err := srv.tokens.Issue(time.Now().Add(-3*time.Hour), TokenConnection, conn.ConnectionID, "")
	require.NoError(t, err)

	w := doJSON(t, h, http.MethodPost, PathSessions, stale, OpenSessionRequest{Datastore: "startup"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionTokenExpiresWithClock(t *testing.T) {
	gin.SetMode(gin.TestMode)
	clock := testutil.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	tokens, err := NewTokens("test-secret", "lockd", 10*time.Minute)
	require.NoError(t, err)

	srv := New(memory.NewService(), tokens, slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(clock.Now))
	t.Cleanup(func() { _ = srv.Close(context.Background()) })
	h := srv.Handler()

	sess := openSess(t, h, openConn(t, h, "first", "default").Token, "startup")
	w := doJSON(t, h, http.MethodPost, PathLockDatastore, sess.Token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	clock.Advance(9 * time.Minute)
	w = doJSON(t, h, http.MethodPost, PathUnlockDatastore, sess.Token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	clock.Advance(2 * time.Minute)
	w = doJSON(t, h, http.MethodPost, PathLockDatastore, sess.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(locksvc.CodeConflict))
	assert.Equal(t, http.StatusPreconditionFailed, statusFor(locksvc.CodeNotHeld))
	assert.Equal(t, http.StatusBadRequest, statusFor(locksvc.CodeInvalidArgument))
	assert.Equal(t, http.StatusGone, statusFor(locksvc.CodeClosed))
	assert.Equal(t, http.StatusInternalServerError, statusFor(locksvc.CodeInternal))
}
