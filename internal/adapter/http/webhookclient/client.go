// Package webhookclient provides a pooled HTTPS client tuned for outbound
// webhook delivery, generalizing the teacher's bare *http.Client (handed
// to NewWebhookService in main.go) into a transport with the connection
// and timeout limits the delivery engine requires.
package webhookclient

import (
	"net"
	"net/http"
	"time"
)

// Config bundles the pool and timeout figures the delivery engine needs.
// Field names mirror config.WebhookConfig so callers can pass it through
// almost verbatim.
type Config struct {
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	MaxTotalConns      int
	MaxConnsPerHost    int
	IdleConnTimeout    time.Duration
	KeepAlive          time.Duration
}

// New builds an *http.Client with a tuned Transport: bounded per-host
// connections, a cap of MaxTotalConns on idle connections kept across all
// hosts (the Transport has no cap on total open connections),
// idle-connection eviction, and a dialer honoring the configured connect
// timeout and keep-alive interval.
func New(cfg Config) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: cfg.KeepAlive,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxIdleConns:        cfg.MaxTotalConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
	}
}
