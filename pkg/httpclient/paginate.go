package httpclient

import (
	"context"
	"fmt"
)

// Page is one fetched page of list results plus the path to the next
// page, or "" when exhausted.
type Page struct {
	Items    []map[string]any
	NextPath string
}

// PageFetcher retrieves one page given the path to request.
type PageFetcher func(ctx context.Context, path string) (Page, error)

// ListAll walks every page via fetch starting at firstPath and
// flattens the result into a single slice, deduplicated by keyField
// with last-occurrence-wins (a later page's row for the same key
// replaces an earlier one, matching how the upstream APIs report
// updated rows on subsequent pages during a shifting dataset).
func ListAll(ctx context.Context, fetch PageFetcher, firstPath, keyField string) ([]map[string]any, error) {
	order := []string{}
	byKey := map[string]map[string]any{}

	path := firstPath
	for path != "" {
		page, err := fetch(ctx, path)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			key := keyOf(item, keyField)
			if _, exists := byKey[key]; !exists {
				order = append(order, key)
			}
			byKey[key] = item
		}
		path = page.NextPath
	}

	out := make([]map[string]any, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out, nil
}

func keyOf(item map[string]any, keyField string) string {
	v, ok := item[keyField]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return toString(t)
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// Flatten walks a hierarchical payload depth-first, collecting every
// node into a single slice and dropping each node's childrenField
// afterward — used for SafetyAmp's nested site/cluster tree, where a
// cluster's "children" holds nested sites and sub-clusters.
func Flatten(nodes []map[string]any, childrenField string) []map[string]any {
	var out []map[string]any
	var walk func([]map[string]any)
	walk = func(ns []map[string]any) {
		for _, n := range ns {
			children, _ := n[childrenField].([]any)
			flat := make(map[string]any, len(n))
			for k, v := range n {
				if k == childrenField {
					continue
				}
				flat[k] = v
			}
			out = append(out, flat)

			if len(children) > 0 {
				childMaps := make([]map[string]any, 0, len(children))
				for _, c := range children {
					if m, ok := c.(map[string]any); ok {
						childMaps = append(childMaps, m)
					}
				}
				walk(childMaps)
			}
		}
	}
	walk(nodes)
	return out
}
