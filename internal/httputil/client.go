package httputil

import (
	"net/http"
	"time"
)

// DefaultTimeout bounds outbound geocoding calls. The pollution history
// endpoint can return multi-week windows, so its client uses HistoryTimeout.
const (
	DefaultTimeout = 30 * time.Second
	HistoryTimeout = 5 * time.Minute
)

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
	}
}

// NewHistoryClient returns an HTTP client sized for large history windows.
func NewHistoryClient() *http.Client {
	return &http.Client{
		Timeout: HistoryTimeout,
	}
}
