// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// MaxRemoteSnapshotSize caps downloads from GCS.
const MaxRemoteSnapshotSize = 1 << 30

// GCSStore keeps snapshots as objects under a bucket prefix.
//
// Info fields travel as object metadata so List needs no downloads.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewGCSStore creates a store for gs://bucket/prefix.
//
// Inputs:
//   - ctx: Context for client creation.
//   - bucket: Bucket name. Required.
//   - prefix: Object name prefix, e.g. "regkg/snapshots".
//   - saKeyPath: Service account key file. Empty uses application default
//     credentials.
//
// Outputs:
//   - *GCSStore: The store. Call Close when done.
//   - error: Non-nil if the key file is missing or the client fails.
func NewGCSStore(ctx context.Context, bucket, prefix, saKeyPath string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	var opts []option.ClientOption
	if saKeyPath != "" {
		info, err := os.Stat(saKeyPath)
		if err != nil {
			return nil, fmt.Errorf("service account key not found at path: %s: %w", saKeyPath, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("service account key path is a directory: %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: slog.Default().With(slog.String("component", "regkg.snapshot")),
	}, nil
}

func (s *GCSStore) objectName(name string) string {
	return path.Join(s.prefix, name+".snap")
}

// Save uploads the encoded snapshot.
func (s *GCSStore) Save(ctx context.Context, name string, snap *Snapshot) (Info, error) {
	ctx, span := tracer.Start(ctx, "GCSStore.Save")
	defer span.End()

	if err := validName(name); err != nil {
		return Info{}, err
	}
	data, err := Encode(snap)
	if err != nil {
		return Info{}, err
	}
	info := snap.info(name, len(data))

	obj := s.client.Bucket(s.bucket).Object(s.objectName(name))
	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.CacheControl = "no-cache, no-store, must-revalidate"
	w.Metadata = infoMetadata(info)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		span.RecordError(err)
		return Info{}, fmt.Errorf("failed to upload snapshot %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		span.RecordError(err)
		return Info{}, fmt.Errorf("failed to close GCS writer for %s: %w", name, err)
	}
	snapshotBytes.WithLabelValues("gcs").Observe(float64(len(data)))
	s.logger.Info("snapshot uploaded",
		slog.String("object", "gs://"+s.bucket+"/"+s.objectName(name)),
		slog.Int("bytes", len(data)))
	return info, nil
}

// Load downloads and decodes a snapshot.
func (s *GCSStore) Load(ctx context.Context, name string) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "GCSStore.Load")
	defer span.End()

	if err := validName(name); err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.bucket).Object(s.objectName(name)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("opening snapshot %s: %w", name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, MaxRemoteSnapshotSize+1))
	if err != nil {
		return nil, fmt.Errorf("downloading snapshot %s: %w", name, err)
	}
	if len(data) > MaxRemoteSnapshotSize {
		return nil, fmt.Errorf("snapshot %s exceeds %d bytes", name, MaxRemoteSnapshotSize)
	}
	return Decode(data)
}

// List returns the snapshots under the prefix, newest first.
func (s *GCSStore) List(ctx context.Context) ([]Info, error) {
	q := &storage.Query{Prefix: s.prefix + "/"}
	if s.prefix == "" {
		q.Prefix = ""
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, q)
	out := []Info{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing snapshots: %w", err)
		}
		name, ok := strings.CutSuffix(path.Base(attrs.Name), ".snap")
		if !ok {
			continue
		}
		info := metadataInfo(attrs.Metadata)
		info.Name = name
		info.Size = attrs.Size
		out = append(out, info)
	}
	sortInfos(out)
	return out, nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func infoMetadata(info Info) map[string]string {
	return map[string]string{
		"taken_at": info.TakenAt.Format(time.RFC3339Nano),
		"revision": strconv.FormatUint(info.Revision, 10),
		"nodes":    strconv.Itoa(info.Nodes),
		"edges":    strconv.Itoa(info.Edges),
	}
}

// metadataInfo is the inverse of infoMetadata. Malformed fields are left
// zero.
func metadataInfo(md map[string]string) Info {
	var info Info
	info.TakenAt, _ = time.Parse(time.RFC3339Nano, md["taken_at"])
	info.Revision, _ = strconv.ParseUint(md["revision"], 10, 64)
	info.Nodes, _ = strconv.Atoi(md["nodes"])
	info.Edges, _ = strconv.Atoi(md["edges"])
	return info
}

var _ Store = (*GCSStore)(nil)
