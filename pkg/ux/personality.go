// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Level defines the richness of CLI output
type Level string

const (
	// LevelFull enables colors, icons and boxes.
	LevelFull Level = "full"

	// LevelMachine outputs plain text suitable for scripting and parsing.
	LevelMachine Level = "machine"
)

// ParseLevel converts a string to a Level. Unknown values mean full.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "machine", "plain", "quiet", "q":
		return LevelMachine
	default:
		return LevelFull
	}
}

// DetectLevel picks the output level from REGKG_OUTPUT, falling back to
// machine mode when f is not a terminal.
func DetectLevel(f *os.File) Level {
	if env := os.Getenv("REGKG_OUTPUT"); env != "" {
		return ParseLevel(env)
	}
	if f == nil || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return LevelMachine
	}
	return LevelFull
}
