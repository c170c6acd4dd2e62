// Package visualization renders lineage graphs in various output formats.
package visualization

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/nvandessel/cellsim/internal/naming"
	"github.com/nvandessel/cellsim/internal/simulation"
	"github.com/nvandessel/cellsim/internal/store"
)

// Format specifies the output format for graph rendering.
type Format string

const (
	FormatDOT  Format = "dot"
	FormatJSON Format = "json"
)

// ParseFormat maps a format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatDOT, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (valid: dot, json)", s)
}

// statusColors maps the status hint carried in a label to DOT colors.
var statusColors = map[string]string{
	"":       "lightsteelblue",
	"B":      "tomato",
	"W":      "goldenrod",
	"BW":     "orchid",
	"centre": "gray80",
}

// statusOf returns the status hint of a display label ("", B, W or BW),
// or "centre" for centre lineage nodes.
func statusOf(label string) string {
	if label == simulation.CentreLabel {
		return "centre"
	}
	base := naming.BaseLabel(label)
	if base == label {
		return ""
	}
	return strings.Trim(strings.Replace(label, base, "", 1), "_")
}

func nodeID(id int64) string {
	return fmt.Sprintf("s%d", id)
}

// RenderDOT produces a Graphviz DOT representation of the lineage, one
// rank per timepoint.
func RenderDOT(ctx context.Context, ls store.LineageStore) (string, error) {
	spots, err := ls.AllSpots(ctx)
	if err != nil {
		return "", fmt.Errorf("query spots: %w", err)
	}
	links, err := ls.AllLinks(ctx)
	if err != nil {
		return "", fmt.Errorf("query links: %w", err)
	}

	var b strings.Builder
	b.WriteString("digraph lineage {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  node [shape=ellipse, style=filled, fontname=\"Helvetica\"];\n\n")

	byTime := make(map[int][]store.Spot)
	var times []int
	for _, s := range spots {
		if _, ok := byTime[s.Time]; !ok {
			times = append(times, s.Time)
		}
		byTime[s.Time] = append(byTime[s.Time], s)
	}
	slices.Sort(times)

	for _, t := range times {
		fmt.Fprintf(&b, "  subgraph t%d {\n    rank=same;\n", t)
		for _, s := range byTime[t] {
			color := statusColors[statusOf(s.Label)]
			if color == "" {
				color = "lightgray"
			}
			fmt.Fprintf(&b, "    %s [label=%q, fillcolor=%q, tooltip=\"t=%d (%.2f, %.2f, %.2f)\"];\n",
				nodeID(s.ID), s.Label, color, s.Time, s.X, s.Y, s.Z)
		}
		b.WriteString("  }\n")
	}
	b.WriteString("\n")

	for _, l := range links {
		fmt.Fprintf(&b, "  %s -> %s;\n", nodeID(l.Source), nodeID(l.Target))
	}

	b.WriteString("}\n")
	return b.String(), nil
}

// RenderJSON produces a JSON graph representation with nodes and edges arrays.
func RenderJSON(ctx context.Context, ls store.LineageStore) (map[string]interface{}, error) {
	spots, err := ls.AllSpots(ctx)
	if err != nil {
		return nil, fmt.Errorf("query spots: %w", err)
	}
	links, err := ls.AllLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}

	jsonNodes := make([]map[string]interface{}, 0, len(spots))
	for _, s := range spots {
		jsonNodes = append(jsonNodes, map[string]interface{}{
			"id":     s.ID,
			"time":   s.Time,
			"x":      s.X,
			"y":      s.Y,
			"z":      s.Z,
			"radius": s.Radius,
			"label":  s.Label,
			"status": statusOf(s.Label),
		})
	}

	jsonEdges := make([]map[string]interface{}, 0, len(links))
	for _, l := range links {
		jsonEdges = append(jsonEdges, map[string]interface{}{
			"source": l.Source,
			"target": l.Target,
		})
	}

	out := map[string]interface{}{
		"nodes":      jsonNodes,
		"edges":      jsonEdges,
		"node_count": len(jsonNodes),
		"edge_count": len(jsonEdges),
	}
	if from, to, err := ls.TimeRange(ctx); err == nil {
		out["time_range"] = []int{from, to}
	}
	return out, nil
}
