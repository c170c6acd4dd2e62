package visualization

import (
	"context"
	"strings"
	"testing"

	"github.com/nvandessel/cellsim/internal/simulation"
	"github.com/nvandessel/cellsim/internal/store"
)

// setupLineage stores a mother that divides into two daughters, one of
// them blocked, plus one centre node.
func setupLineage(t *testing.T) *store.InMemoryLineageStore {
	t.Helper()
	ls := store.NewInMemoryLineageStore()
	ctx := context.Background()

	add := func(s store.Spot) int64 {
		id, err := ls.AddSpot(ctx, s)
		if err != nil {
			t.Fatalf("add spot: %v", err)
		}
		return id
	}
	link := func(a, b int64) {
		if err := ls.AddLink(ctx, a, b); err != nil {
			t.Fatalf("add link: %v", err)
		}
	}

	mother := add(store.Spot{Time: 0, Radius: 1.5, Label: "1"})
	a := add(store.Spot{Time: 1, X: -1.5, Radius: 1.5, Label: "1a"})
	b := add(store.Spot{Time: 1, X: 1.5, Radius: 1.5, Label: "1b_B"})
	add(store.Spot{Time: 0, Radius: 1.5, Label: simulation.CentreLabel})
	link(mother, a)
	link(mother, b)
	return ls
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"1ab", ""},
		{"B_1ab", "B"},
		{"1ab_W", "W"},
		{"BW_2", "BW"},
		{"centre", "centre"},
		{"M", ""},
	}
	for _, tt := range tests {
		if got := statusOf(tt.label); got != tt.want {
			t.Errorf("statusOf(%q) = %q, want %q", tt.label, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("DOT"); err != nil || f != FormatDOT {
		t.Errorf("ParseFormat(DOT) = %q, %v", f, err)
	}
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(json) = %q, %v", f, err)
	}
	if _, err := ParseFormat("html"); err == nil {
		t.Error("expected error for html format")
	}
}

func TestRenderDOT_EmptyStore(t *testing.T) {
	dot, err := RenderDOT(context.Background(), store.NewInMemoryLineageStore())
	if err != nil {
		t.Fatalf("RenderDOT() error = %v", err)
	}
	if !strings.HasPrefix(dot, "digraph lineage {") {
		t.Errorf("expected digraph header, got:\n%s", dot)
	}
	if !strings.HasSuffix(dot, "}\n") {
		t.Errorf("expected closing brace, got:\n%s", dot)
	}
}

func TestRenderDOT_Lineage(t *testing.T) {
	dot, err := RenderDOT(context.Background(), setupLineage(t))
	if err != nil {
		t.Fatalf("RenderDOT() error = %v", err)
	}

	for _, want := range []string{
		"subgraph t0 {",
		"subgraph t1 {",
		`s1 [label="1", fillcolor="lightsteelblue"`,
		`s3 [label="1b_B", fillcolor="tomato"`,
		`s4 [label="centre", fillcolor="gray80"`,
		"s1 -> s2;",
		"s1 -> s3;",
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q:\n%s", want, dot)
		}
	}
	if strings.Index(dot, "subgraph t0") > strings.Index(dot, "subgraph t1") {
		t.Error("timepoints should be rendered in ascending order")
	}
}

func TestRenderJSON_Lineage(t *testing.T) {
	graph, err := RenderJSON(context.Background(), setupLineage(t))
	if err != nil {
		t.Fatalf("RenderJSON() error = %v", err)
	}

	if graph["node_count"] != 4 {
		t.Errorf("node_count = %v, want 4", graph["node_count"])
	}
	if graph["edge_count"] != 2 {
		t.Errorf("edge_count = %v, want 2", graph["edge_count"])
	}

	nodes := graph["nodes"].([]map[string]interface{})
	if nodes[2]["status"] != "B" || nodes[2]["label"] != "1b_B" {
		t.Errorf("node 3 = %v, want blocked daughter", nodes[2])
	}
	if nodes[1]["x"] != -1.5 {
		t.Errorf("node 2 x = %v, want -1.5", nodes[1]["x"])
	}

	edges := graph["edges"].([]map[string]interface{})
	if edges[0]["source"] != int64(1) || edges[0]["target"] != int64(2) {
		t.Errorf("edge 0 = %v, want 1 -> 2", edges[0])
	}

	tr, ok := graph["time_range"].([]int)
	if !ok || tr[0] != 0 || tr[1] != 1 {
		t.Errorf("time_range = %v, want [0 1]", graph["time_range"])
	}
}

func TestRenderJSON_EmptyStore(t *testing.T) {
	graph, err := RenderJSON(context.Background(), store.NewInMemoryLineageStore())
	if err != nil {
		t.Fatalf("RenderJSON() error = %v", err)
	}
	if graph["node_count"] != 0 {
		t.Errorf("node_count = %v, want 0", graph["node_count"])
	}
	if _, ok := graph["time_range"]; ok {
		t.Error("empty store should have no time_range")
	}
}
