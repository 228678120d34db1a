// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianRegKG/pkg/ux"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/centrality"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/conflict"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/ingest"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/paths"
)

const barWidth = 20

func renderIngestReport(p *ux.Printer, rep ingest.Report) {
	for _, fe := range rep.Failed {
		p.Error(fmt.Sprintf("%s: %v", fe.Path, fe.Err))
	}
	msg := fmt.Sprintf("%d frameworks from %d files", rep.Frameworks, rep.Files)
	if len(rep.Failed) > 0 {
		p.Warning(fmt.Sprintf("%s, %d files failed", msg, len(rep.Failed)))
		return
	}
	p.Success(msg)
}

func renderStats(p *ux.Printer, s graph.GraphStats) {
	lines := []string{
		fmt.Sprintf("Nodes:          %d", s.NodeCount),
		fmt.Sprintf("Edges:          %d", s.EdgeCount),
		fmt.Sprintf("Components:     %d", s.Components),
		fmt.Sprintf("Density:        %.4f", s.Density),
		fmt.Sprintf("Average degree: %.2f", s.AverageDegree),
	}
	for _, t := range slices.Sorted(maps.Keys(s.NodesByType)) {
		lines = append(lines, fmt.Sprintf("  %-14s %d", t, s.NodesByType[t]))
	}
	p.Box("Knowledge Graph", strings.Join(lines, "\n"))
}

func renderRanking(p *ux.Printer, m centrality.Measure, ranked []centrality.Ranked) {
	p.Title(fmt.Sprintf("Top influencers by %s", m))
	rows := make([][]string, len(ranked))
	for i, r := range ranked {
		rows[i] = []string{strconv.Itoa(i + 1), r.EntityID, r.NodeType.String(), p.Bar(r.Score, barWidth)}
	}
	p.Table([]string{"#", "ENTITY", "TYPE", "SCORE"}, rows)
}

func renderConflicts(p *ux.Printer, found []conflict.ConflictPath) {
	if len(found) == 0 {
		p.Success("No conflicts detected")
		return
	}
	p.Title(fmt.Sprintf("%d conflicts", len(found)))
	for _, c := range found {
		var body []string
		for _, s := range c.ConflictSteps {
			body = append(body, string(ux.IconBullet)+" "+s.ConflictDescription)
		}
		for _, s := range c.ResolutionSuggestions {
			body = append(body, string(ux.IconArrow)+" "+s)
		}
		title := fmt.Sprintf("[%s] %s %s %s  severity %.2f",
			c.Kind, c.SourceEntity, ux.IconArrow, c.TargetEntity, c.ConflictSeverity)
		p.WarningBox(title, strings.Join(body, "\n"))
	}
}

func renderSearch(p *ux.Printer, query string, results []graph.SemanticSearchResult) {
	if len(results) == 0 {
		p.Warning(fmt.Sprintf("No matches for %q", query))
		return
	}
	rows := make([][]string, len(results))
	for i, r := range results {
		title, _ := r.RelevantProperties["title"].(string)
		rows[i] = []string{r.EntityID, r.NodeType.String(), p.Bar(r.SimilarityScore, barWidth), title}
	}
	p.Table([]string{"ENTITY", "TYPE", "SIMILARITY", "TITLE"}, rows)
}

func renderPaths(p *ux.Printer, from, to string, found []paths.RegulatoryPath) {
	if len(found) == 0 {
		p.Warning(fmt.Sprintf("No path from %s to %s", from, to))
		return
	}
	p.Title(fmt.Sprintf("%d paths from %s to %s", len(found), from, to))
	for _, rp := range found {
		if len(rp.Nodes) == 0 {
			continue
		}
		var b strings.Builder
		b.WriteString(rp.Nodes[0])
		for i, rel := range rp.Relationships {
			fmt.Fprintf(&b, " -%s-> %s", rel, rp.Nodes[i+1])
		}
		p.Info(fmt.Sprintf("%s  %s", p.Bar(rp.PathStrength, barWidth/2), b.String()))
	}
}

func renderGaps(p *ux.Printer, jurisdiction string, gaps []paths.RegulatoryGap) {
	if len(gaps) == 0 {
		p.Success(fmt.Sprintf("No regulatory gaps in %s", jurisdiction))
		return
	}
	rows := make([][]string, len(gaps))
	for i, g := range gaps {
		rows[i] = []string{string(g.GapType), g.AffectedFramework, fmt.Sprintf("%.2f", g.Severity), g.Description}
	}
	p.Title(fmt.Sprintf("Regulatory gaps in %s", jurisdiction))
	p.Table([]string{"GAP", "FRAMEWORK", "SEVERITY", "DESCRIPTION"}, rows)
}
