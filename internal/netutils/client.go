package netutils

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// NewClient returns the http.Client shared by every Foundry call in a process.
// Connections are pooled; insecure skips certificate verification for local
// mock servers with self-signed certificates.
func NewClient(timeout time.Duration, insecure bool) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
