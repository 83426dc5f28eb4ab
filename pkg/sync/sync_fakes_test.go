package sync

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iius-rcox/safetyamp-sync/pkg/cache"
	"github.com/iius-rcox/safetyamp-sync/pkg/erp"
	"github.com/iius-rcox/safetyamp-sync/pkg/events"
	"github.com/iius-rcox/safetyamp-sync/pkg/failsync"
	"github.com/iius-rcox/safetyamp-sync/pkg/httpclient"
	"github.com/iius-rcox/safetyamp-sync/pkg/identity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSafetyAmp is an in-memory stand-in for the SafetyAmp REST API,
// grounded on httptest.NewServer rather than an interface mock since
// SafetyAmpAPI wraps a concrete httpclient.Client.
type fakeSafetyAmp struct {
	mu         sync.Mutex
	nextID     int
	data       map[string][]map[string]any
	createFail map[string]func(payload map[string]any) (handled bool, status int, body []byte)
}

func newFakeSafetyAmp() *fakeSafetyAmp {
	return &fakeSafetyAmp{
		nextID: 1,
		data: map[string][]map[string]any{
			"users": {}, "sites": {}, "clusters": {}, "titles": {}, "assets": {},
		},
		createFail: map[string]func(map[string]any) (bool, int, []byte){},
	}
}

func (f *fakeSafetyAmp) seed(name string, rows ...map[string]any) {
	f.data[name] = append(f.data[name], rows...)
}

func (f *fakeSafetyAmp) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	for _, name := range []string{"users", "sites", "clusters", "titles", "assets"} {
		name := name
		mux.HandleFunc("/api/"+name, func(w http.ResponseWriter, r *http.Request) {
			f.handleCollection(w, r, name)
		})
		mux.HandleFunc("/api/"+name+"/", func(w http.ResponseWriter, r *http.Request) {
			f.handleItem(w, r, name)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeSafetyAmp) handleCollection(w http.ResponseWriter, r *http.Request, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": f.data[name]})
	case http.MethodPost:
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if hook, ok := f.createFail[name]; ok {
			if handled, status, body := hook(payload); handled {
				w.WriteHeader(status)
				_, _ = w.Write(body)
				return
			}
		}
		payload["id"] = f.nextID
		f.nextID++
		f.data[name] = append(f.data[name], payload)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeSafetyAmp) handleItem(w http.ResponseWriter, r *http.Request, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/api/"+name+"/")
	id, _ := strconv.Atoi(idStr)
	var patch map[string]any
	_ = json.NewDecoder(r.Body).Decode(&patch)
	for _, rec := range f.data[name] {
		if intOrZero(rec["id"]) == id {
			for k, v := range patch {
				rec[k] = v
			}
			break
		}
	}
	w.WriteHeader(http.StatusOK)
}

// fakeSamsara is a single-page in-memory stand-in for the Samsara
// fleet vehicles endpoint.
type fakeSamsara struct {
	vehicles []map[string]any
}

func (f *fakeSamsara) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/fleet/vehicles", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":       f.vehicles,
			"pagination": map[string]any{"endCursor": "", "hasNextPage": false},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *httpclient.Client {
	return httpclient.New(httpclient.Options{
		Service:         "test",
		BaseURL:         srv.URL,
		RateLimitCalls:  1000,
		RateLimitPeriod: time.Second,
		MaxRetries:      1,
		Timeout:         5 * time.Second,
		Logger:          testLogger(),
	})
}

// testDepsOption mutates a Deps under construction, e.g. to seed the
// ERP reader or samsara backend per test.
type testDepsOption func(*testing.T, *Deps)

func withERP(r erp.Reader) testDepsOption {
	return func(_ *testing.T, d *Deps) { d.ERP = r }
}

func withSamsara(fs *fakeSamsara) testDepsOption {
	return func(t *testing.T, d *Deps) {
		d.Samsara = NewSamsaraAPI(newTestClient(fs.server(t)))
	}
}

func withDefaults(siteID, assetTypeID int) testDepsOption {
	return func(_ *testing.T, d *Deps) {
		d.DefaultSiteID = siteID
		d.DefaultAssetTypeID = assetTypeID
	}
}

func newTestDeps(t *testing.T, sa *fakeSafetyAmp, opts ...testDepsOption) *Deps {
	t.Helper()

	tracker, err := events.NewTracker(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("building event tracker: %v", err)
	}

	d := &Deps{
		SafetyAmp:       NewSafetyAmpAPI(newTestClient(sa.server(t))),
		Cache:           cache.NewMemoryStore(),
		Failures:        failsync.NewTracker(nil, testLogger(), 7, false),
		Events:          tracker,
		Identity:        identity.StaticClient{},
		ERP:             erp.StaticReader{},
		Logger:          testLogger(),
		SafetyStopLimit: 10,
	}
	for _, opt := range opts {
		opt(t, d)
	}
	return d
}
