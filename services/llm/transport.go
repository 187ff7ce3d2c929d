// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"net"
	"net/http"
	"time"
)

// Timeouts bound each phase of a provider HTTP exchange.
type Timeouts struct {
	// Connect bounds TCP dial and TLS handshake.
	Connect time.Duration `yaml:"connect"`

	// Read bounds the wait for response headers after the request is sent.
	Read time.Duration `yaml:"read"`

	// Write bounds sending the request body. net/http has no per-write
	// deadline, so it contributes to the overall client timeout.
	Write time.Duration `yaml:"write"`

	// Pool is how long an idle pooled connection is kept.
	Pool time.Duration `yaml:"pool"`
}

// DefaultTimeouts returns connect 10s, read 60s, write 30s, pool 30s.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: 10 * time.Second,
		Read:    60 * time.Second,
		Write:   30 * time.Second,
		Pool:    30 * time.Second,
	}
}

// NewHTTPClient builds a pooled HTTP client honoring t. Zero fields take
// the defaults.
func NewHTTPClient(t Timeouts) *http.Client {
	def := DefaultTimeouts()
	if t.Connect <= 0 {
		t.Connect = def.Connect
	}
	if t.Read <= 0 {
		t.Read = def.Read
	}
	if t.Write <= 0 {
		t.Write = def.Write
	}
	if t.Pool <= 0 {
		t.Pool = def.Pool
	}
	dialer := &net.Dialer{Timeout: t.Connect, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   t.Connect,
		ResponseHeaderTimeout: t.Read,
		IdleConnTimeout:       t.Pool,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   t.Connect + t.Write + t.Read,
	}
}
