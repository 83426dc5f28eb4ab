package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/iius-rcox/safetyamp-sync/pkg/httpclient"
)

// SafetyAmpAPI wraps the target-side REST surface the syncers write
// to: users, clusters, sites and titles, all under the conventional
// {data:[...]} envelope with page/limit pagination.
type SafetyAmpAPI struct {
	client *httpclient.Client
}

// NewSafetyAmpAPI wraps an already-configured httpclient.Client.
func NewSafetyAmpAPI(client *httpclient.Client) *SafetyAmpAPI {
	return &SafetyAmpAPI{client: client}
}

type envelope struct {
	Data []map[string]any `json:"data"`
}

const pageSize = 25

func (a *SafetyAmpAPI) listAll(ctx context.Context, basePath, keyField string) ([]map[string]any, error) {
	page := 1
	fetch := func(ctx context.Context, _ string) (httpclient.Page, error) {
		path := fmt.Sprintf("%s?page=%d&limit=%d", basePath, page, pageSize)
		body, _, err := a.client.Do(ctx, http.MethodGet, path, nil, "")
		if err != nil {
			return httpclient.Page{}, err
		}
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return httpclient.Page{}, fmt.Errorf("decoding page %s: %w", path, err)
		}

		next := ""
		if len(env.Data) == pageSize {
			page++
			next = "next"
		}
		return httpclient.Page{Items: env.Data, NextPath: next}, nil
	}
	return httpclient.ListAll(ctx, fetch, "first", keyField)
}

func (a *SafetyAmpAPI) Users(ctx context.Context) ([]map[string]any, error) {
	return a.listAll(ctx, "/api/users", "id")
}

func (a *SafetyAmpAPI) Sites(ctx context.Context) ([]map[string]any, error) {
	return a.listAll(ctx, "/api/sites", "id")
}

func (a *SafetyAmpAPI) Clusters(ctx context.Context) ([]map[string]any, error) {
	return a.listAll(ctx, "/api/clusters", "id")
}

func (a *SafetyAmpAPI) Titles(ctx context.Context) ([]map[string]any, error) {
	return a.listAll(ctx, "/api/titles", "id")
}

func (a *SafetyAmpAPI) Assets(ctx context.Context) ([]map[string]any, error) {
	return a.listAll(ctx, "/api/assets", "id")
}

func (a *SafetyAmpAPI) CreateUser(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var out map[string]any
	err := a.client.PostJSON(ctx, "/api/users", payload, &out, "")
	return out, err
}

func (a *SafetyAmpAPI) PatchUser(ctx context.Context, id int, payload map[string]any) error {
	return a.client.PatchJSON(ctx, fmt.Sprintf("/api/users/%d", id), payload, nil, "")
}

func (a *SafetyAmpAPI) CreateCluster(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var out map[string]any
	err := a.client.PostJSON(ctx, "/api/clusters", payload, &out, "")
	return out, err
}

func (a *SafetyAmpAPI) PatchCluster(ctx context.Context, id int, payload map[string]any) error {
	return a.client.PatchJSON(ctx, fmt.Sprintf("/api/clusters/%d", id), payload, nil, "")
}

func (a *SafetyAmpAPI) CreateSite(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var out map[string]any
	err := a.client.PostJSON(ctx, "/api/sites", payload, &out, "")
	return out, err
}

func (a *SafetyAmpAPI) PatchSite(ctx context.Context, id int, payload map[string]any) error {
	return a.client.PatchJSON(ctx, fmt.Sprintf("/api/sites/%d", id), payload, nil, "")
}

func (a *SafetyAmpAPI) CreateTitle(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var out map[string]any
	err := a.client.PostJSON(ctx, "/api/titles", payload, &out, "")
	return out, err
}

func (a *SafetyAmpAPI) CreateAsset(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var out map[string]any
	err := a.client.PostJSON(ctx, "/api/assets", payload, &out, "")
	return out, err
}

func (a *SafetyAmpAPI) PatchAsset(ctx context.Context, id int, payload map[string]any) error {
	return a.client.PatchJSON(ctx, fmt.Sprintf("/api/assets/%d", id), payload, nil, "")
}
