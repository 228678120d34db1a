// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateEntityID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid IDs
		{"simple", "gdpr", false},
		{"with punctuation", "gdpr-art.33(1)", false},
		{"unicode", "lgpd-artigo-48-§1", false},
		{"max length", strings.Repeat("a", MaxEntityIDLength), false},
		{"flux quote is allowed", `SPY") |> drop()`, false},

		// Invalid IDs
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxEntityIDLength+1), true},
		{"newline injection", "gdpr\n|> drop()", true},
		{"tab", "gdpr\tx", true},
		{"leading space", " gdpr", true},
		{"trailing space", "gdpr ", true},
		{"invalid utf8", "gdpr\xff", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEntityID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEntityID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSnapshotName(t *testing.T) {
	tests := []struct {
		name     string
		snapshot string
		wantErr  bool
	}{
		{"simple", "baseline", false},
		{"dated", "2026-03-01_nightly.v2", false},
		{"max length", strings.Repeat("s", 128), false},

		{"empty", "", true},
		{"too long", strings.Repeat("s", 129), true},
		{"path traversal", "../etc", true},
		{"embedded dots", "a..b", true},
		{"slash", "a/b", true},
		{"starts with dot", ".hidden", true},
		{"space", "my snapshot", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSnapshotName(tt.snapshot)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSnapshotName(%q) error = %v, wantErr %v", tt.snapshot, err, tt.wantErr)
			}
		})
	}
}
