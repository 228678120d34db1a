// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided identifiers that end
// up in Flux queries, storage keys or object names. Validating them up
// front keeps injection and key-collision concerns out of the stores.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxEntityIDLength bounds entity identifiers in bytes.
const MaxEntityIDLength = 256

// snapshotNamePattern matches snapshot names.
// Allows: letters, digits, dots, underscores and hyphens
// Max length: 128 characters, must start with a letter or digit
var snapshotNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,127}$`)

// ValidateEntityID validates a knowledge graph entity ID.
//
// Valid IDs:
//   - 1-256 bytes of valid UTF-8
//   - No control characters (newlines would break Flux and log lines)
//   - No leading or trailing whitespace
//
// Example:
//
//	if err := validation.ValidateEntityID(id); err != nil {
//	    return nil, fmt.Errorf("invalid entity: %w", err)
//	}
//	// Safe to interpolate as a quoted Flux string
func ValidateEntityID(id string) error {
	if id == "" {
		return fmt.Errorf("entity id cannot be empty")
	}
	if len(id) > MaxEntityIDLength {
		return fmt.Errorf("entity id too long: %d bytes (max %d)", len(id), MaxEntityIDLength)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("entity id is not valid UTF-8: %q", id)
	}
	if strings.TrimSpace(id) != id {
		return fmt.Errorf("entity id has surrounding whitespace: %q", id)
	}
	if strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return fmt.Errorf("entity id contains control characters: %q", id)
	}
	return nil
}

// ValidateSnapshotName validates a snapshot name used as a storage key
// and object name suffix.
func ValidateSnapshotName(name string) error {
	if name == "" {
		return fmt.Errorf("snapshot name cannot be empty")
	}
	if !snapshotNamePattern.MatchString(name) {
		return fmt.Errorf("invalid snapshot name: %q (must be 1-128 letters, digits, dots, underscores or hyphens)", name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("invalid snapshot name: %q (must not contain '..')", name)
	}
	return nil
}
