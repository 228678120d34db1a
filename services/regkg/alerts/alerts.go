// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package alerts announces newly detected regulatory conflicts.
//
// A Monitor remembers which conflicts it has already reported and hands
// only new ones to a Notifier. Notifiers exist for Redis pub/sub and for
// websocket subscribers; Multi fans a batch out to several of them.
package alerts

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/conflict"
	"github.com/google/uuid"
)

// Batch is one alert message: the conflicts first seen by a scan.
type Batch struct {
	ID         string                  `json:"id"`
	DetectedAt time.Time               `json:"detected_at"`
	Revision   uint64                  `json:"revision"`
	Conflicts  []conflict.ConflictPath `json:"conflicts"`
}

// Notifier delivers alert batches.
type Notifier interface {
	Notify(ctx context.Context, b Batch) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, b Batch) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, b Batch) error {
	return f(ctx, b)
}

// Multi delivers to every notifier and joins their errors.
func Multi(ns ...Notifier) Notifier {
	return NotifierFunc(func(ctx context.Context, b Batch) error {
		var errs []error
		for _, n := range ns {
			if err := n.Notify(ctx, b); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Fingerprint identifies a conflict independently of its scan-assigned ID.
// Source and target are ordered so both directions share a fingerprint.
func Fingerprint(c conflict.ConflictPath) string {
	a, b := c.SourceEntity, c.TargetEntity
	if b < a {
		a, b = b, a
	}
	return string(c.Kind) + "|" + a + "|" + b
}

// Monitor reports conflicts the first time a scan finds them.
//
// Thread Safety: Safe for concurrent use.
type Monitor struct {
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	seen map[string]bool
}

// NewMonitor creates a monitor delivering to n.
func NewMonitor(n Notifier, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		notifier: n,
		logger:   logger.With(slog.String("component", "regkg.alerts")),
		now:      time.Now,
		seen:     make(map[string]bool),
	}
}

// Observe records the result of a full conflict scan.
//
// Description:
//
//	Conflicts not present in any earlier scan are sent as one batch.
//	Conflicts missing from this scan are forgotten, so a conflict that
//	disappears and comes back is reported again.
//
// Outputs:
//   - Batch: The delivered batch. Zero when nothing was new.
//   - error: Delivery failure. The new conflicts stay unreported and are
//     offered again by the next scan.
func (m *Monitor) Observe(ctx context.Context, revision uint64, scan []conflict.ConflictPath) (Batch, error) {
	m.mu.Lock()
	current := make(map[string]bool, len(scan))
	var fresh []conflict.ConflictPath
	for _, c := range scan {
		fp := Fingerprint(c)
		if current[fp] {
			continue
		}
		current[fp] = true
		if !m.seen[fp] {
			fresh = append(fresh, c)
		}
	}
	m.seen = current
	m.mu.Unlock()

	if len(fresh) == 0 {
		return Batch{}, nil
	}
	b := Batch{
		ID:         uuid.NewString(),
		DetectedAt: m.now().UTC(),
		Revision:   revision,
		Conflicts:  fresh,
	}
	if err := m.notifier.Notify(ctx, b); err != nil {
		m.mu.Lock()
		for _, c := range fresh {
			delete(m.seen, Fingerprint(c))
		}
		m.mu.Unlock()
		alertsTotal.WithLabelValues("failed").Add(float64(len(fresh)))
		m.logger.Warn("conflict alert delivery failed",
			slog.Int("conflicts", len(fresh)),
			slog.String("error", err.Error()))
		return Batch{}, err
	}
	alertsTotal.WithLabelValues("sent").Add(float64(len(fresh)))
	m.logger.Info("new conflicts reported",
		slog.String("batch_id", b.ID),
		slog.Int("conflicts", len(fresh)),
		slog.Uint64("revision", revision))
	return b, nil
}

// Reset forgets every reported conflict.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = make(map[string]bool)
}
