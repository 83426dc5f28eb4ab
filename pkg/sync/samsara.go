package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/iius-rcox/safetyamp-sync/pkg/httpclient"
)

// SamsaraAPI wraps the telematics fleet API the vehicle syncer reads
// from: cursor-paginated vehicle records.
type SamsaraAPI struct {
	client *httpclient.Client
}

// NewSamsaraAPI wraps an already-configured httpclient.Client.
func NewSamsaraAPI(client *httpclient.Client) *SamsaraAPI {
	return &SamsaraAPI{client: client}
}

type samsaraPagination struct {
	EndCursor   string `json:"endCursor"`
	HasNextPage bool   `json:"hasNextPage"`
}

type samsaraPage struct {
	Data       []map[string]any  `json:"data"`
	Pagination samsaraPagination `json:"pagination"`
}

// Vehicles returns every fleet vehicle, deduplicated by id with
// last-occurrence-wins.
func (a *SamsaraAPI) Vehicles(ctx context.Context) ([]map[string]any, error) {
	cursor := ""
	fetch := func(ctx context.Context, _ string) (httpclient.Page, error) {
		path := "/fleet/vehicles?limit=100"
		if cursor != "" {
			path += "&after=" + cursor
		}
		body, _, err := a.client.Do(ctx, http.MethodGet, path, nil, "")
		if err != nil {
			return httpclient.Page{}, err
		}
		var page samsaraPage
		if err := json.Unmarshal(body, &page); err != nil {
			return httpclient.Page{}, fmt.Errorf("decoding samsara page: %w", err)
		}

		next := ""
		if page.Pagination.HasNextPage {
			cursor = page.Pagination.EndCursor
			next = "next"
		}
		return httpclient.Page{Items: page.Data, NextPath: next}, nil
	}
	return httpclient.ListAll(ctx, fetch, "first", "id")
}
