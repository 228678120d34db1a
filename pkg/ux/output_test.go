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
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconArrow} {
		assert.Contains(t, icon.Render(), string(icon))
	}
}

func TestPrinter_MachineMode(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, LevelMachine)
	assert.True(t, p.Machine())

	p.Title("ignored")
	p.Success("saved")
	p.Warning("careful")
	p.Error("broken")
	p.Info("note")
	p.Box("Stats", "nodes: 3\nedges: 2")

	assert.Equal(t, strings.Join([]string{
		"OK: saved",
		"WARN: careful",
		"ERROR: broken",
		"note",
		"Stats: nodes: 3; edges: 2",
		"",
	}, "\n"), buf.String())
}

func TestPrinter_TableMachine(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, LevelMachine).Table([]string{"ID", "SCORE"}, [][]string{{"a", "0.5"}, {"b", "0.25"}})
	assert.Equal(t, "a\t0.5\nb\t0.25\n", buf.String())
}

func TestPrinter_TableFull(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, LevelFull).Table([]string{"ID", "SCORE"}, [][]string{{"alpha", "0.5"}, {"b"}})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "ID")
	assert.Contains(t, lines[1], "alpha")
	assert.Contains(t, lines[1], "0.5")
}

func TestPrinter_Bar(t *testing.T) {
	assert.Equal(t, "0.2500", NewPrinter(nil, LevelMachine).Bar(0.25, 10))
	assert.Equal(t, "1.0000", NewPrinter(nil, LevelMachine).Bar(3, 10))

	full := NewPrinter(nil, LevelFull).Bar(0.5, 10)
	assert.Equal(t, 5, strings.Count(full, "█"))
	assert.Equal(t, 5, strings.Count(full, "░"))
	assert.Contains(t, full, "0.500")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelMachine, ParseLevel("machine"))
	assert.Equal(t, LevelMachine, ParseLevel("PLAIN"))
	assert.Equal(t, LevelFull, ParseLevel("full"))
	assert.Equal(t, LevelFull, ParseLevel("sparkly"))
}

func TestDetectLevel(t *testing.T) {
	t.Setenv("REGKG_OUTPUT", "")
	f, err := os.CreateTemp(t.TempDir(), "out")
	assert.NoError(t, err)
	defer f.Close()
	assert.Equal(t, LevelMachine, DetectLevel(f), "regular files are not terminals")
	assert.Equal(t, LevelMachine, DetectLevel(nil))

	t.Setenv("REGKG_OUTPUT", "full")
	assert.Equal(t, LevelFull, DetectLevel(f))
}
