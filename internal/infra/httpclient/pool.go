package httpclient

import (
	"net/http"
	"time"
)

// sharedTransport is reused across all pooled clients so the gateway, the
// context store, and the list fetcher multiplex one connection pool to the
// backend instead of handshaking per client.
var sharedTransport = &http.Transport{
	MaxIdleConns:        20,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     120 * time.Second,
	DisableKeepAlives:   false,
}

// NewPooledClient creates an http.Client that shares a connection pool with
// other pooled clients.
func NewPooledClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
}
