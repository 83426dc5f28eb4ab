package httpclient

import (
	"context"
	"testing"
)

func TestListAll_LastOccurrenceWins(t *testing.T) {
	pages := []Page{
		{Items: []map[string]any{{"id": "1", "v": "first"}, {"id": "2", "v": "a"}}, NextPath: "/page2"},
		{Items: []map[string]any{{"id": "1", "v": "second"}, {"id": "3", "v": "b"}}, NextPath: ""},
	}
	call := 0
	fetch := func(_ context.Context, path string) (Page, error) {
		p := pages[call]
		call++
		return p, nil
	}

	out, err := ListAll(context.Background(), fetch, "/page1", "id")
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 unique records, got %d", len(out))
	}
	for _, item := range out {
		if item["id"] == "1" && item["v"] != "second" {
			t.Errorf("expected last occurrence to win for id=1, got %v", item["v"])
		}
	}
}

func TestFlatten_DepthFirstDropsChildren(t *testing.T) {
	nodes := []map[string]any{
		{
			"id": "root",
			"children": []any{
				map[string]any{"id": "child1", "children": []any{
					map[string]any{"id": "grandchild"},
				}},
				map[string]any{"id": "child2"},
			},
		},
	}

	out := Flatten(nodes, "children")
	if len(out) != 4 {
		t.Fatalf("expected 4 flattened nodes, got %d", len(out))
	}
	for _, n := range out {
		if _, ok := n["children"]; ok {
			t.Errorf("expected children field dropped, got %+v", n)
		}
	}
	if out[0]["id"] != "root" || out[1]["id"] != "child1" || out[2]["id"] != "grandchild" || out[3]["id"] != "child2" {
		t.Errorf("unexpected depth-first order: %+v", out)
	}
}
