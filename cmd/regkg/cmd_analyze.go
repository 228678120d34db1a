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
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/centrality"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/ingest"
	"github.com/spf13/cobra"
)

var (
	inputFiles     []string
	ingestWorkers  int
	topMeasure     string
	topK           int
	gapsFor        string
	gapsSector     string
	searchLimit    int
	analyzeInfer   bool
	analyzeNoScore bool

	ingestCmd = &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Validate and load framework files",
		Long: `Parses YAML or JSON framework files and loads them into a graph.

With --snapshot the graph is restored from that snapshot first and saved
back to it afterwards, so repeated runs build up a persistent graph.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIngest,
	}

	analyzeCmd = &cobra.Command{
		Use:   "analyze [FILE...]",
		Short: "Report centrality, conflicts and graph statistics",
		Args:  cobra.ArbitraryArgs,
		RunE:  runAnalyze,
	}

	searchCmd = &cobra.Command{
		Use:   "search QUERY...",
		Short: "Semantic search over the graph",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}

	pathCmd = &cobra.Command{
		Use:   "path FROM TO",
		Short: "List regulatory paths between two entities",
		Args:  cobra.ExactArgs(2),
		RunE:  runPath,
	}
)

func init() {
	for _, c := range []*cobra.Command{ingestCmd, analyzeCmd, searchCmd, pathCmd} {
		c.Flags().StringVarP(&snapshotName, "snapshot", "s", "", "Snapshot to load the graph from")
	}
	for _, c := range []*cobra.Command{searchCmd, pathCmd} {
		c.Flags().StringSliceVarP(&inputFiles, "file", "f", nil, "Framework files to load before querying")
	}
	ingestCmd.Flags().IntVarP(&ingestWorkers, "workers", "w", 4, "Files parsed concurrently")

	analyzeCmd.Flags().StringVarP(&topMeasure, "measure", "m", "pagerank",
		"Centrality measure: degree, betweenness, closeness, eigenvector or pagerank")
	analyzeCmd.Flags().IntVarP(&topK, "top", "k", 10, "Number of top influencers to show")
	analyzeCmd.Flags().StringVar(&gapsFor, "gaps", "", "Also report regulatory gaps for this jurisdiction")
	analyzeCmd.Flags().StringVar(&gapsSector, "sector", "", "Sector filter for --gaps")
	analyzeCmd.Flags().BoolVar(&analyzeInfer, "infer", false, "Also run rule inference and report derived facts")
	analyzeCmd.Flags().BoolVar(&analyzeNoScore, "no-centrality", false, "Skip the centrality recompute")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum results")
}

// prepare restores --snapshot and loads files into the app's graph.
func (r *app) prepare(ctx context.Context, files []string) error {
	if err := r.loadSnapshot(ctx); err != nil {
		return err
	}
	if len(files) == 0 {
		if r.svc.Graph().NodeCount() == 0 {
			return errors.New("graph is empty: pass framework files or --snapshot")
		}
		return nil
	}
	rep, err := ingest.IngestFiles(ctx, r.svc, files, ingestWorkers, r.logger)
	if err != nil {
		return err
	}
	if len(rep.Failed) > 0 {
		renderIngestReport(r.out, rep)
	}
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	r, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.loadSnapshot(ctx); err != nil {
		return err
	}
	rep, err := ingest.IngestFiles(ctx, r.svc, args, ingestWorkers, r.logger)
	if err != nil {
		return err
	}
	renderIngestReport(r.out, rep)

	if snapshotName != "" {
		info, err := r.svc.SaveSnapshot(ctx, snapshotName)
		if err != nil {
			return err
		}
		r.out.Success(fmt.Sprintf("Saved snapshot %q (%d nodes, %d edges)", info.Name, info.Nodes, info.Edges))
	}
	return rep.Err()
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	measure, err := centrality.ParseMeasure(topMeasure)
	if err != nil {
		return err
	}
	r, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.prepare(ctx, args); err != nil {
		return err
	}

	if !analyzeNoScore {
		if _, err := r.svc.UpdateCentrality(ctx); err != nil {
			return err
		}
	}
	renderStats(r.out, r.svc.Stats(ctx))

	ranked, err := r.svc.TopInfluencers(ctx, measure.String(), topK)
	if err != nil {
		return err
	}
	renderRanking(r.out, measure, ranked)

	found, err := r.svc.DetectConflicts(ctx)
	if err != nil {
		return err
	}
	renderConflicts(r.out, found)

	if gapsFor != "" {
		gaps, err := r.svc.DetectRegulatoryGaps(ctx, gapsFor, gapsSector)
		if err != nil {
			return err
		}
		renderGaps(r.out, gapsFor, gaps)
	}

	if analyzeInfer {
		res, _, err := r.svc.InferRelationships(ctx, false)
		if err != nil {
			return err
		}
		r.out.Title(fmt.Sprintf("%d inferred relationships (confidence %.2f)", len(res.Facts), res.ConfidenceScore))
		for _, f := range res.Facts {
			r.out.Info(fmt.Sprintf("%s %s %s  %.2f  [%s]", f.Subject, f.Predicate, f.Object, f.Confidence, f.RuleID))
		}
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	r, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.prepare(ctx, inputFiles); err != nil {
		return err
	}
	query := strings.Join(args, " ")
	results, err := r.svc.SemanticSearch(ctx, query, searchLimit)
	if err != nil {
		return err
	}
	renderSearch(r.out, query, results)
	return nil
}

func runPath(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	r, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.prepare(ctx, inputFiles); err != nil {
		return err
	}
	found, err := r.svc.FindRegulatoryPath(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	renderPaths(r.out, args[0], args[1], found)
	return nil
}
