// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the regkg service.
//
// # Request Flow
//
//	Request
//	   │
//	   ▼
//	RateLimit ──► 429 when the client IP is over budget
//	   │
//	   ▼
//	Timeout ──► request context gets a deadline
//	   │
//	   ▼
//	Handler
//
// Websocket upgrades bypass Timeout because the connection outlives the
// request.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// =============================================================================
// Rate Limiting
// =============================================================================

const (
	// limiterIdleTTL is how long an idle client keeps its limiter.
	limiterIdleTTL = 10 * time.Minute

	// limiterSweepSize triggers an idle sweep when the table grows past it.
	limiterSweepSize = 1024
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out a token bucket per client key.
//
// # Thread Safety
//
// Safe for concurrent use.
type Limiter struct {
	rps   rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewLimiter creates a limiter allowing rps requests per second per key
// with the given burst. A burst below 1 is raised to 1.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		rps:      rate.Limit(rps),
		burst:    max(burst, 1),
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Allow reports whether key may make a request now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		if len(l.visitors) >= limiterSweepSize {
			l.sweep(now)
		}
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	l.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// sweep drops idle visitors. Caller holds mu.
func (l *Limiter) sweep(now time.Time) {
	for k, v := range l.visitors {
		if now.Sub(v.lastSeen) > limiterIdleTTL {
			delete(l.visitors, k)
		}
	}
}

// RateLimit creates a Gin middleware that limits requests per client IP.
//
// # Description
//
// Requests over budget are rejected with 429 and a Retry-After header.
// A nil limiter disables limiting.
//
// # Inputs
//
//   - l: Per-client limiter. May be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
func RateLimit(l *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		if !l.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
				"code":  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

// =============================================================================
// Timeouts
// =============================================================================

// Timeout creates a Gin middleware that bounds the request context.
//
// # Description
//
// Handlers observe the deadline through c.Request.Context(); long graph
// analyses check it between iterations and return
// context.DeadlineExceeded. A non-positive d disables the deadline.
// Websocket upgrade requests are passed through untouched.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 || isWebsocketUpgrade(c.Request) {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
