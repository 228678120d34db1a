// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package alerts

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/conflict"
	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cp(kind conflict.Kind, src, dst string) conflict.ConflictPath {
	return conflict.ConflictPath{
		ConflictID:       src + "-" + dst,
		Kind:             kind,
		SourceEntity:     src,
		TargetEntity:     dst,
		ConflictSeverity: 0.8,
	}
}

type recorder struct {
	batches []Batch
	err     error
}

func (r *recorder) Notify(_ context.Context, b Batch) error {
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, b)
	return nil
}

func TestFingerprint_IgnoresDirection(t *testing.T) {
	k := conflict.KindExplicit
	assert.Equal(t, Fingerprint(cp(k, "a", "b")), Fingerprint(cp(k, "b", "a")))
	assert.NotEqual(t, Fingerprint(cp(k, "a", "b")), Fingerprint(cp(conflict.KindTemporal, "a", "b")))
}

func TestMonitor_ReportsOnlyNewConflicts(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	m := NewMonitor(rec, nil)
	k := conflict.KindExplicit

	b, err := m.Observe(ctx, 3, []conflict.ConflictPath{cp(k, "a", "b"), cp(k, "b", "a")})
	require.NoError(t, err)
	require.Len(t, b.Conflicts, 1)
	assert.Equal(t, uint64(3), b.Revision)
	assert.NotEmpty(t, b.ID)

	b, err = m.Observe(ctx, 4, []conflict.ConflictPath{cp(k, "a", "b"), cp(k, "c", "d")})
	require.NoError(t, err)
	require.Len(t, b.Conflicts, 1)
	assert.Equal(t, "c", b.Conflicts[0].SourceEntity)

	// Unchanged scan: nothing to send.
	b, err = m.Observe(ctx, 5, []conflict.ConflictPath{cp(k, "a", "b"), cp(k, "c", "d")})
	require.NoError(t, err)
	assert.Empty(t, b.ID)
	assert.Len(t, rec.batches, 2)

	// A resolved conflict that reappears is reported again.
	_, _ = m.Observe(ctx, 6, []conflict.ConflictPath{cp(k, "c", "d")})
	b, _ = m.Observe(ctx, 7, []conflict.ConflictPath{cp(k, "a", "b"), cp(k, "c", "d")})
	require.Len(t, b.Conflicts, 1)
	assert.Equal(t, "a", b.Conflicts[0].SourceEntity)

	m.Reset()
	b, _ = m.Observe(ctx, 8, []conflict.ConflictPath{cp(k, "a", "b"), cp(k, "c", "d")})
	assert.Len(t, b.Conflicts, 2)
}

func TestMonitor_FailedDeliveryIsRetried(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{err: errors.New("down")}
	m := NewMonitor(rec, nil)
	scan := []conflict.ConflictPath{cp(conflict.KindExplicit, "a", "b")}

	_, err := m.Observe(ctx, 1, scan)
	require.Error(t, err)

	rec.err = nil
	b, err := m.Observe(ctx, 1, scan)
	require.NoError(t, err)
	assert.Len(t, b.Conflicts, 1)
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("boom")}
	err := Multi(ok, bad, ok).Notify(context.Background(), Batch{ID: "x"})
	assert.ErrorContains(t, err, "boom")
	assert.Len(t, ok.batches, 2)
}

// =============================================================================
// Redis
// =============================================================================

func setupRedis(t *testing.T, limit int) (*RedisNotifier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	opts := DefaultRedisOptions(fmt.Sprintf("redis://%s", mr.Addr()))
	opts.HistoryLimit = limit
	n, err := NewRedisNotifier(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n, mr
}

func TestRedisNotifier_HistoryIsCapped(t *testing.T) {
	ctx := context.Background()
	n, mr := setupRedis(t, 2)

	for i := range 3 {
		require.NoError(t, n.Notify(ctx, Batch{ID: fmt.Sprint(i), Conflicts: []conflict.ConflictPath{cp(conflict.KindExplicit, "a", "b")}}))
	}
	items, err := mr.List("regkg:conflicts:recent")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	recent, err := n.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "2", recent[0].ID)
	assert.Equal(t, "1", recent[1].ID)
	assert.Equal(t, "a", recent[0].Conflicts[0].SourceEntity)
}

func TestRedisNotifier_Subscribe(t *testing.T) {
	n, _ := setupRedis(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := n.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, n.Notify(ctx, Batch{ID: "live", Revision: 9}))

	select {
	case b := <-ch:
		assert.Equal(t, "live", b.ID)
		assert.Equal(t, uint64(9), b.Revision)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch received")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewRedisNotifier_Errors(t *testing.T) {
	_, err := NewRedisNotifier(RedisOptions{URL: "redis://localhost:6379"})
	assert.ErrorContains(t, err, "channel is required")

	_, err = NewRedisNotifier(RedisOptions{URL: "://bad", Channel: "c"})
	assert.ErrorContains(t, err, "parse")

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisNotifier(RedisOptions{URL: "redis://" + addr, Channel: "c", ConnectTimeout: 200 * time.Millisecond})
	assert.ErrorContains(t, err, "failed to connect")
}

// =============================================================================
// Websocket stream
// =============================================================================

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_BroadcastsBatches(t *testing.T) {
	h := NewHub(4, nil)
	a := dialHub(t, h)
	b := dialHub(t, h)
	require.Eventually(t, func() bool { return h.Clients() == 2 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.Notify(context.Background(), Batch{ID: "b1", Conflicts: []conflict.ConflictPath{cp(conflict.KindExplicit, "x", "y")}}))

	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var got Batch
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, "b1", got.ID)
		assert.Equal(t, "x", got.Conflicts[0].SourceEntity)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	h := NewHub(0, nil)
	conn := dialHub(t, h)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHub_CloseEndsStreams(t *testing.T) {
	h := NewHub(0, nil)
	conn := dialHub(t, h)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	h.Close()
	assert.Zero(t, h.Clients())
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// New subscribers are refused once closed.
	late := dialHub(t, h)
	_ = late.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	h := NewHub(1, nil)
	c := &client{id: "slow", send: make(chan Batch, 1)}
	h.clients[c] = struct{}{}
	streamClients.Inc()

	require.NoError(t, h.Notify(context.Background(), Batch{ID: "1"}))
	assert.Equal(t, 1, h.Clients())
	require.NoError(t, h.Notify(context.Background(), Batch{ID: "2"}))
	assert.Zero(t, h.Clients())

	b, ok := <-c.send
	assert.True(t, ok)
	assert.Equal(t, "1", b.ID)
	_, ok = <-c.send
	assert.False(t, ok)
}
