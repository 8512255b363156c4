package cloudflare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/evanofslack/cloudflare-ddns/internal/config"
	"github.com/evanofslack/cloudflare-ddns/internal/metrics"
	"github.com/evanofslack/cloudflare-ddns/internal/provider"
)

const resultInfo = `"result_info":{"page":1,"per_page":100,"count":%d,"total_count":%d,"total_pages":1}`

// fakeAPI serves the handful of Cloudflare v4 endpoints the provider uses.
type fakeAPI struct {
	mu          sync.Mutex
	zones       string
	records     string
	status      int
	updateCode  int
	updateBody  map[string]any
	updateCalls int
	requests    int
	authEmail   string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	f.authEmail = r.Header.Get("X-Auth-Email")
	w.Header().Set("Content-Type", "application/json")

	if f.status != 0 {
		w.WriteHeader(f.status)
		io.WriteString(w, `{"success":false,"errors":[{"code":10000,"message":"Authentication error"}],"messages":[],"result":null}`)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/zones":
		io.WriteString(w, f.zones)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/dns_records"):
		io.WriteString(w, f.records)
	case strings.Contains(r.URL.Path, "/dns_records/"):
		f.updateCalls++
		body, _ := io.ReadAll(r.Body)
		f.updateBody = map[string]any{}
		_ = json.Unmarshal(body, &f.updateBody)
		if f.updateCode != 0 {
			w.WriteHeader(f.updateCode)
			io.WriteString(w, `{"success":false,"errors":[{"code":9005,"message":"Content for A record is invalid"}],"messages":[],"result":null}`)
			return
		}
		io.WriteString(w, `{"success":true,"errors":[],"messages":[],"result":{"id":"rec123","type":"A","name":"home.example.com","content":"203.0.113.9","ttl":1}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"success":false,"errors":[{"code":7003,"message":"No route"}],"messages":[],"result":null}`)
	}
}

func zonesBody(ids ...string) string {
	var items []string
	for _, id := range ids {
		items = append(items, `{"id":"`+id+`","name":"example.com"}`)
	}
	return `{"success":true,"errors":[],"messages":[],"result":[` + strings.Join(items, ",") + `],` +
		fmt.Sprintf(resultInfo, len(ids), len(ids)) + `}`
}

func recordsBody(records ...string) string {
	return `{"success":true,"errors":[],"messages":[],"result":[` + strings.Join(records, ",") + `],` +
		fmt.Sprintf(resultInfo, len(records), len(records)) + `}`
}

func newTestProvider(t *testing.T, api *fakeAPI) *CloudflareProvider {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.CloudflareEmail = "admin@example.com"
	cfg.CloudflareKey = "secret"

	p, err := New(cfg, metrics.New(false), cloudflare.BaseURL(srv.URL))
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	return p
}

func TestResolveZone(t *testing.T) {
	tests := []struct {
		name    string
		api     *fakeAPI
		want    string
		wantErr error
	}{
		{
			name: "zone found",
			api:  &fakeAPI{zones: zonesBody("zone123")},
			want: "zone123",
		},
		{
			name:    "no matching zone",
			api:     &fakeAPI{zones: zonesBody()},
			wantErr: provider.ErrZoneNotFound,
		},
		{
			name:    "authentication failure",
			api:     &fakeAPI{status: http.StatusForbidden},
			wantErr: provider.ErrUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, tt.api)
			got, err := p.ResolveZone(context.Background(), "example.com")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected zone %q, got %q", tt.want, got)
			}
			if tt.api.authEmail != "admin@example.com" {
				t.Errorf("Expected X-Auth-Email header, got %q", tt.api.authEmail)
			}
		})
	}
}

func TestResolveRecord(t *testing.T) {
	tests := []struct {
		name     string
		api      *fakeAPI
		wantID   string
		wantData string
		wantErr  error
	}{
		{
			name: "record found",
			api: &fakeAPI{records: recordsBody(
				`{"id":"rec123","type":"A","name":"home.example.com","content":"203.0.113.5","ttl":300}`,
			)},
			wantID:   "rec123",
			wantData: "203.0.113.5",
		},
		{
			name: "first of several",
			api: &fakeAPI{records: recordsBody(
				`{"id":"rec1","type":"A","name":"home.example.com","content":"203.0.113.1","ttl":1}`,
				`{"id":"rec2","type":"A","name":"home.example.com","content":"203.0.113.2","ttl":1}`,
			)},
			wantID:   "rec1",
			wantData: "203.0.113.1",
		},
		{
			name: "unparsable content kept verbatim",
			api: &fakeAPI{records: recordsBody(
				`{"id":"rec123","type":"A","name":"home.example.com","content":"not-an-ip","ttl":1}`,
			)},
			wantID:   "rec123",
			wantData: "not-an-ip",
		},
		{
			name:    "no A record",
			api:     &fakeAPI{records: recordsBody()},
			wantErr: provider.ErrRecordNotFound,
		},
		{
			name:    "provider error",
			api:     &fakeAPI{status: http.StatusForbidden},
			wantErr: provider.ErrUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, tt.api)
			got, err := p.ResolveRecord(context.Background(), "zone123", "home.example.com")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got.ID != tt.wantID || got.Data != tt.wantData || got.Type != "A" {
				t.Errorf("Unexpected record: %+v", got)
			}
		})
	}
}

func TestUpdateRecord(t *testing.T) {
	record := provider.Record{ID: "rec123", Name: "home.example.com", Type: "A", Data: "203.0.113.9"}

	t.Run("accepted", func(t *testing.T) {
		api := &fakeAPI{}
		p := newTestProvider(t, api)
		if err := p.UpdateRecord(context.Background(), "zone123", record); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if api.updateCalls != 1 {
			t.Fatalf("Expected 1 update call, got %d", api.updateCalls)
		}
		if api.updateBody["content"] != "203.0.113.9" || api.updateBody["type"] != "A" || api.updateBody["name"] != "home.example.com" {
			t.Errorf("Unexpected update body: %v", api.updateBody)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		api := &fakeAPI{updateCode: http.StatusBadRequest}
		p := newTestProvider(t, api)
		err := p.UpdateRecord(context.Background(), "zone123", record)
		if !errors.Is(err, provider.ErrUpdateFailed) {
			t.Fatalf("Expected ErrUpdateFailed, got %v", err)
		}
	})

	t.Run("server error is not retried", func(t *testing.T) {
		api := &fakeAPI{updateCode: http.StatusServiceUnavailable}
		p := newTestProvider(t, api)
		start := time.Now()
		err := p.UpdateRecord(context.Background(), "zone123", record)
		if !errors.Is(err, provider.ErrUpdateFailed) {
			t.Fatalf("Expected ErrUpdateFailed, got %v", err)
		}
		if api.updateCalls != 1 {
			t.Errorf("Expected exactly 1 update call, got %d", api.updateCalls)
		}
		if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
			t.Errorf("Expected no backoff wait, took %v", elapsed)
		}
	})

	t.Run("invalid content never reaches the API", func(t *testing.T) {
		api := &fakeAPI{}
		p := newTestProvider(t, api)
		bad := record
		bad.Data = "garbage"
		err := p.UpdateRecord(context.Background(), "zone123", bad)
		if !errors.Is(err, provider.ErrUpdateFailed) {
			t.Fatalf("Expected ErrUpdateFailed, got %v", err)
		}
		if api.updateCalls != 0 {
			t.Errorf("Expected no update calls, got %d", api.updateCalls)
		}
	})
}

func TestLookupsAreNotRetried(t *testing.T) {
	ctx := context.Background()

	api := &fakeAPI{status: http.StatusServiceUnavailable}
	p := newTestProvider(t, api)
	if _, err := p.ResolveZone(ctx, "example.com"); !errors.Is(err, provider.ErrUnreachable) {
		t.Fatalf("Expected ErrUnreachable, got %v", err)
	}
	if api.requests != 1 {
		t.Errorf("Expected 1 zone request, got %d", api.requests)
	}

	api = &fakeAPI{status: http.StatusBadGateway}
	p = newTestProvider(t, api)
	if _, err := p.ResolveRecord(ctx, "zone123", "home.example.com"); !errors.Is(err, provider.ErrUnreachable) {
		t.Fatalf("Expected ErrUnreachable, got %v", err)
	}
	if api.requests != 1 {
		t.Errorf("Expected 1 record request, got %d", api.requests)
	}
}

func TestNewUsesToken(t *testing.T) {
	cfg := config.Default()
	cfg.CloudflareToken = "token"
	if _, err := New(cfg, metrics.New(false)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	cfg = config.Default()
	if _, err := New(cfg, metrics.New(false)); err == nil {
		t.Fatalf("Expected error for empty credentials")
	}
}
