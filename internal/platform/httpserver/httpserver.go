// Package httpserver builds an HTTP server with sane defaults for this project.
package httpserver

import (
	"net/http"
	"time"
)

// New returns a server with conservative header/idle timeouts. Handler-level
// deadlines (the per-request chain timeout) are the gateway's concern, so no
// global write timeout is imposed here.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
