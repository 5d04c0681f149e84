// Package lockd serves a locksvc.Service over HTTP.
//
// A client opens a connection with POST /v1/connections and receives a
// connection token. Sessions are opened with that token and each comes back
// with its own session token, which authorizes the lock operations under
// /v1/session. Tokens are HS256 JWTs; the server keeps the live connections
// and sessions and closes all of them on shutdown.
//
// Service errors travel as {"code", "message"} with CONFLICT mapped to 409,
// NOT_HELD to 412, INVALID_ARGUMENT to 400, CLOSED to 410 and everything else
// to 500.
package lockd
