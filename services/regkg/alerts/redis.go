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
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis notifier.
type RedisOptions struct {
	// URL is the Redis connection string, e.g. redis://localhost:6379.
	URL string

	// Channel receives each batch via PUBLISH.
	Channel string

	// HistoryKey is a list holding the most recent batches, newest first.
	// Empty disables history.
	HistoryKey string

	// HistoryLimit caps the history list.
	HistoryLimit int

	TLS            *tls.Config
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultRedisOptions returns options for url with the standard channel
// and history key.
func DefaultRedisOptions(url string) RedisOptions {
	return RedisOptions{
		URL:          url,
		Channel:      "regkg:conflicts",
		HistoryKey:   "regkg:conflicts:recent",
		HistoryLimit: 100,
	}
}

// RedisNotifier publishes alert batches as JSON on a Redis channel.
//
// Thread Safety: Safe for concurrent use.
type RedisNotifier struct {
	client *redis.Client
	opts   RedisOptions
}

// NewRedisNotifier connects to Redis and verifies the connection.
func NewRedisNotifier(opts RedisOptions) (*RedisNotifier, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Channel == "" {
		return nil, errors.New("redis channel is required")
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)
	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisNotifier{client: client, opts: opts}, nil
}

// Notify publishes b and prepends it to the history list.
func (n *RedisNotifier) Notify(ctx context.Context, b Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal alert batch: %w", err)
	}
	pipe := n.client.TxPipeline()
	pipe.Publish(ctx, n.opts.Channel, data)
	if n.opts.HistoryKey != "" {
		pipe.LPush(ctx, n.opts.HistoryKey, data)
		pipe.LTrim(ctx, n.opts.HistoryKey, 0, int64(n.opts.HistoryLimit-1))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", n.opts.Channel, err)
	}
	return nil
}

// Recent returns up to limit batches from the history list, newest first.
func (n *RedisNotifier) Recent(ctx context.Context, limit int) ([]Batch, error) {
	if n.opts.HistoryKey == "" || limit <= 0 {
		return []Batch{}, nil
	}
	raw, err := n.client.LRange(ctx, n.opts.HistoryKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read alert history: %w", err)
	}
	out := make([]Batch, 0, len(raw))
	for _, s := range raw {
		var b Batch
		if err := json.Unmarshal([]byte(s), &b); err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// Subscribe streams batches published on the channel until ctx is done.
func (n *RedisNotifier) Subscribe(ctx context.Context) (<-chan Batch, error) {
	pubsub := n.client.Subscribe(ctx, n.opts.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", n.opts.Channel, err)
	}

	out := make(chan Batch)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var b Batch
				if err := json.Unmarshal([]byte(msg.Payload), &b); err != nil {
					continue
				}
				select {
				case out <- b:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the Redis connection.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
