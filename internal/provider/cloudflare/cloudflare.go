package cloudflare

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudflare/cloudflare-go"

	"github.com/evanofslack/cloudflare-ddns/internal/config"
	"github.com/evanofslack/cloudflare-ddns/internal/metrics"
	"github.com/evanofslack/cloudflare-ddns/internal/provider"
)

const userAgent = "cloudflare-ddns/1.0"

type CloudflareProvider struct {
	client  *cloudflare.API
	metrics *metrics.Metrics
}

// New builds a client authenticated with the API token when one is configured,
// otherwise with the global API key and account email. The SDK's own retries
// are disabled: each call is a single request and the poll loop owns retrying.
func New(cfg *config.Config, metrics *metrics.Metrics, opts ...cloudflare.Option) (*CloudflareProvider, error) {
	options := []cloudflare.Option{
		cloudflare.UserAgent(userAgent),
		cloudflare.HTTPClient(&http.Client{Timeout: cfg.RequestTimeout()}),
		cloudflare.UsingRetryPolicy(0, 0, 0),
	}
	options = append(options, opts...)

	var (
		client *cloudflare.API
		err    error
	)
	if cfg.CloudflareToken != "" {
		client, err = cloudflare.NewWithAPIToken(cfg.CloudflareToken, options...)
	} else {
		client, err = cloudflare.New(cfg.CloudflareKey, cfg.CloudflareEmail, options...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloudflare client: %w", err)
	}

	return &CloudflareProvider{
		client:  client,
		metrics: metrics,
	}, nil
}

func (p *CloudflareProvider) ResolveZone(ctx context.Context, domain string) (string, error) {
	slog.Debug("Looking up zone", "domain", domain)
	start := time.Now()

	res, err := p.client.ListZonesContext(ctx, cloudflare.WithZoneFilters(domain, "", ""))
	if err != nil {
		p.metrics.IncDNSRequest("zone", false)
		return "", provider.NewError("resolve zone "+domain, provider.ErrUnreachable, err)
	}
	p.metrics.IncDNSRequest("zone", true)

	for _, z := range res.Result {
		if z.Name == domain {
			slog.Debug("Resolved zone", "domain", domain, "zone_id", z.ID, "duration", time.Since(start))
			return z.ID, nil
		}
	}
	if len(res.Result) > 0 {
		return res.Result[0].ID, nil
	}
	return "", provider.NewError("resolve zone "+domain, provider.ErrZoneNotFound, nil)
}

func (p *CloudflareProvider) ResolveRecord(ctx context.Context, zoneID, name string) (provider.Record, error) {
	slog.Debug("Looking up A record", "zone_id", zoneID, "name", name)
	start := time.Now()

	params := cloudflare.ListDNSRecordsParams{
		Type: "A",
		Name: name,
		ResultInfo: cloudflare.ResultInfo{
			Page:    1,
			PerPage: 100,
		},
	}
	records, _, err := p.client.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zoneID), params)
	if err != nil {
		p.metrics.IncDNSRequest("read", false)
		return provider.Record{}, provider.NewError("resolve record "+name, provider.ErrUnreachable, err)
	}
	p.metrics.IncDNSRequest("read", true)

	if len(records) == 0 {
		return provider.Record{}, provider.NewError("resolve record "+name, provider.ErrRecordNotFound, nil)
	}
	if len(records) > 1 {
		slog.Warn("Multiple A records match, managing the first", "name", name, "count", len(records), "record_id", records[0].ID)
	}

	r := records[0]
	slog.Debug("Resolved A record", "name", name, "record_id", r.ID, "content", r.Content, "duration", time.Since(start))
	record := provider.Record{
		ID:   r.ID,
		Name: r.Name,
		Type: r.Type,
		Data: r.Content,
		TTL:  time.Duration(r.TTL) * time.Second,
	}
	// content is kept verbatim even when it does not parse, the next poll replaces it
	if _, err := provider.ParseAddress(record); err != nil {
		slog.Warn("Published record content is not a valid address", "name", name, "content", r.Content, "error", err)
	}
	return record, nil
}

// UpdateRecord patches only the type, name and content of the record, leaving
// its TTL and proxy settings as they are on Cloudflare.
func (p *CloudflareProvider) UpdateRecord(ctx context.Context, zoneID string, record provider.Record) error {
	slog.Info("Updating DNS record", "zone_id", zoneID, "name", record.Name, "data", record.Data)
	start := time.Now()

	addr, err := provider.ParseAddress(record)
	if err != nil {
		return provider.NewError("update record "+record.Name, provider.ErrUpdateFailed, err)
	}

	params := cloudflare.UpdateDNSRecordParams{
		ID:      record.ID,
		Type:    addr.RR().Type,
		Name:    record.Name,
		Content: addr.IP.String(),
	}
	if _, err := p.client.UpdateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), params); err != nil {
		p.metrics.IncDNSRequest("update", false)
		return provider.NewError("update record "+record.Name, provider.ErrUpdateFailed, err)
	}

	p.metrics.IncDNSRequest("update", true)
	slog.Debug("Updated DNS record", "zone_id", zoneID, "name", record.Name, "duration", time.Since(start))
	return nil
}
