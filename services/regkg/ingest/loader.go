// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest feeds NormativeFramework records into the knowledge graph
// from files, watched directories and a message queue.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// MaxFrameworkFileSize caps a single framework file.
const MaxFrameworkFileSize = 10 << 20

// Sink applies one framework atomically. *graph.Graph satisfies it, as
// does the service, which adds alerting on top.
type Sink interface {
	IngestFramework(ctx context.Context, f *graph.NormativeFramework) (graph.NodeRef, error)
}

// Format is the encoding of a framework document.
type Format int

const (
	FormatYAML Format = iota
	FormatJSON
)

// FormatForPath picks the format from a file extension.
//
// Outputs:
//   - Format: The format.
//   - bool: False if the extension is not .yaml, .yml or .json.
func FormatForPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".json":
		return FormatJSON, true
	}
	return 0, false
}

// document accepts either a bare framework or a "frameworks" list.
type document struct {
	Frameworks []*graph.NormativeFramework `json:"frameworks" yaml:"frameworks"`
}

// Decode parses a framework document.
//
// Description:
//
//	Accepts a single framework object, a list of frameworks, or an
//	object with a "frameworks" list. Every framework is validated; the
//	first invalid one fails the whole document.
//
// Outputs:
//   - []*graph.NormativeFramework: The frameworks, in document order.
//   - error: Parse or validation failure.
func Decode(data []byte, format Format) ([]*graph.NormativeFramework, error) {
	unmarshal := yaml.Unmarshal
	if format == FormatJSON {
		unmarshal = json.Unmarshal
	}

	var out []*graph.NormativeFramework
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0:
		return nil, errors.New("empty framework document")
	case isList(trimmed, format):
		if err := unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parsing framework list: %w", err)
		}
	default:
		var doc document
		if err := unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing framework document: %w", err)
		}
		if len(doc.Frameworks) > 0 {
			out = doc.Frameworks
			break
		}
		var f graph.NormativeFramework
		if err := unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parsing framework: %w", err)
		}
		out = []*graph.NormativeFramework{&f}
	}

	for i, f := range out {
		if f == nil {
			return nil, fmt.Errorf("framework %d is empty", i)
		}
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("framework %d (%s): %w", i, f.ID, err)
		}
	}
	return out, nil
}

func isList(trimmed []byte, format Format) bool {
	if format == FormatJSON {
		return trimmed[0] == '['
	}
	for _, line := range strings.Split(string(trimmed), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || line == "---" {
			continue
		}
		return strings.HasPrefix(line, "- ") || line == "-" || strings.HasPrefix(line, "[")
	}
	return false
}

// LoadFile reads and decodes one framework file.
//
// Outputs:
//   - []*graph.NormativeFramework: The frameworks.
//   - error: Unknown extension, file larger than MaxFrameworkFileSize,
//     read, parse or validation failure.
func LoadFile(path string) ([]*graph.NormativeFramework, error) {
	format, ok := FormatForPath(path)
	if !ok {
		return nil, fmt.Errorf("unsupported framework file type: %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat framework file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("framework path is a directory: %s", path)
	}
	if info.Size() > MaxFrameworkFileSize {
		return nil, fmt.Errorf("framework file too large: %d bytes (max %d)", info.Size(), MaxFrameworkFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading framework file: %w", err)
	}
	return Decode(data, format)
}

// FileError records a file that could not be ingested.
type FileError struct {
	Path string
	Err  error
}

// Report summarizes a batch ingest.
type Report struct {
	Files      int
	Frameworks int
	Failed     []FileError
}

// Err joins the per-file errors, or returns nil.
func (r Report) Err() error {
	errs := make([]error, len(r.Failed))
	for i, fe := range r.Failed {
		errs[i] = fmt.Errorf("%s: %w", fe.Path, fe.Err)
	}
	return errors.Join(errs...)
}

// IngestFiles parses paths concurrently and applies them to sink in path
// order.
//
// Description:
//
//	Parsing is parallel across up to workers goroutines. Application is
//	sequential because the graph has a single writer. A file fails as a
//	unit: if any framework in it is invalid none of it is applied, but
//	frameworks already applied from the same file before a sink error
//	stay applied.
//
// Outputs:
//   - Report: Counts and per-file failures.
//   - error: ctx.Err() on cancellation only. File failures are in Report.
func IngestFiles(ctx context.Context, sink Sink, paths []string, workers int, logger *slog.Logger) (Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	parsed := make([][]*graph.NormativeFramework, len(paths))
	parseErrs := make([]error, len(paths))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, p := range paths {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			parsed[i], parseErrs[i] = LoadFile(p)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Report{}, err
	}

	rep := Report{Files: len(paths)}
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if parseErrs[i] != nil {
			rep.Failed = append(rep.Failed, FileError{Path: p, Err: parseErrs[i]})
			filesTotal.WithLabelValues("file", "invalid").Inc()
			logger.Warn("framework file rejected",
				slog.String("path", p),
				slog.String("error", parseErrs[i].Error()))
			continue
		}
		applied, err := apply(ctx, sink, parsed[i])
		rep.Frameworks += applied
		if err != nil {
			rep.Failed = append(rep.Failed, FileError{Path: p, Err: err})
			filesTotal.WithLabelValues("file", "failed").Inc()
			logger.Warn("framework file failed",
				slog.String("path", p),
				slog.Int("applied", applied),
				slog.String("error", err.Error()))
			continue
		}
		filesTotal.WithLabelValues("file", "ok").Inc()
		logger.Info("framework file ingested",
			slog.String("path", p),
			slog.Int("frameworks", applied))
	}
	return rep, nil
}

func apply(ctx context.Context, sink Sink, frameworks []*graph.NormativeFramework) (int, error) {
	for i, f := range frameworks {
		if _, err := sink.IngestFramework(ctx, f); err != nil {
			return i, fmt.Errorf("framework %s: %w", f.ID, err)
		}
	}
	return len(frameworks), nil
}
