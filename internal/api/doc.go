// Package api exposes the token manager over HTTP: submit an artifact, poll
// its token, retry a failed token and cancel a running one. Handlers
// translate requests into Manager calls and map domain, store and manager
// errors to status codes without leaking internal details.
package api
