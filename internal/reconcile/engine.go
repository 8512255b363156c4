package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/evanofslack/cloudflare-ddns/internal/config"
	"github.com/evanofslack/cloudflare-ddns/internal/history"
	"github.com/evanofslack/cloudflare-ddns/internal/metrics"
	"github.com/evanofslack/cloudflare-ddns/internal/provider"
)

type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

type Engine struct {
	dnsProvider provider.Provider
	resolver    Resolver
	journal     history.Journal
	metrics     *metrics.Metrics
	domainName  string
	recordName  string
	frequency   time.Duration
	retry       time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewEngine wires the loop to its collaborators. journal may be nil.
func NewEngine(dp provider.Provider, r Resolver, journal history.Journal, cfg *config.Config, metrics *metrics.Metrics) *Engine {
	return &Engine{
		dnsProvider: dp,
		resolver:    r,
		journal:     journal,
		metrics:     metrics,
		domainName:  cfg.DomainName,
		recordName:  cfg.RecordName,
		frequency:   cfg.FrequencyInterval(),
		retry:       cfg.RetryInterval(),
		sleep:       sleepContext,
	}
}

// Run resolves the record identity once and then polls until ctx is done.
// It returns a *StartupError if the identity cannot be resolved, otherwise
// only the context error on shutdown.
func (e *Engine) Run(ctx context.Context) error {
	state, err := e.Startup(ctx)
	if err != nil {
		// a shutdown during the lookups is not a provider failure
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	slog.Info("Cloudflare has IP saved for record", "record", state.RecordName, "ip", state.LastKnownIP)
	slog.Info("Checking public IP state", "every", e.frequency, "retry", e.retry)

	for {
		start := time.Now()
		var outcome Outcome
		state, outcome = e.Poll(ctx, state)
		e.metrics.IncPoll(outcome.String())
		e.metrics.SetPollDuration(time.Since(start))

		delay := e.Delay(outcome)
		slog.Debug("Poll cycle finished", "outcome", outcome, "next", delay)
		if err := e.sleep(ctx, delay); err != nil {
			slog.Info("Stopping poll loop")
			return err
		}
	}
}

// Startup looks up the zone and A record and seeds the state with the
// currently published address. Failures are not retried.
func (e *Engine) Startup(ctx context.Context) (State, error) {
	zoneID, err := e.dnsProvider.ResolveZone(ctx, e.domainName)
	if err != nil {
		return State{}, startupError(err)
	}
	slog.Debug("Resolved zone", "domain", e.domainName, "zone_id", zoneID)

	record, err := e.dnsProvider.ResolveRecord(ctx, zoneID, e.recordName)
	if err != nil {
		return State{}, startupError(err)
	}

	return State{
		ZoneID:      zoneID,
		RecordID:    record.ID,
		RecordName:  e.recordName,
		LastKnownIP: record.Data,
	}, nil
}

func startupError(err error) *StartupError {
	kind := ProviderUnreachable
	switch {
	case errors.Is(err, provider.ErrZoneNotFound):
		kind = ZoneNotFound
	case errors.Is(err, provider.ErrRecordNotFound):
		kind = RecordNotFound
	}
	return &StartupError{Kind: kind, Err: err}
}

// Poll runs one cycle against st and returns the state to carry into the next
// cycle. LastKnownIP changes only when the provider confirms the update.
func (e *Engine) Poll(ctx context.Context, st State) (State, Outcome) {
	ip, err := e.resolver.Resolve(ctx)
	if err != nil {
		slog.Error("Failed to resolve public IP", "error", err)
		return st, ResolutionFailed
	}

	if ip == st.LastKnownIP {
		slog.Info("No IP change needed", "record", st.RecordName, "ip", ip)
		return st, Unchanged
	}

	record := provider.Record{
		ID:   st.RecordID,
		Name: st.RecordName,
		Type: "A",
		Data: ip,
	}
	if err := e.dnsProvider.UpdateRecord(ctx, st.ZoneID, record); err != nil {
		slog.Error("Error sending IP change request to Cloudflare", "record", st.RecordName, "ip", ip, "error", err)
		return st, UpdateFailed
	}

	previous := st.LastKnownIP
	st.LastKnownIP = ip
	slog.Info("Cloudflare IP has been updated", "record", st.RecordName, "previous", previous, "ip", ip)
	e.metrics.SetLastUpdate(time.Now())
	e.record(ctx, st.RecordName, previous, ip)
	return st, Updated
}

func (e *Engine) record(ctx context.Context, name, previous, ip string) {
	if e.journal == nil {
		return
	}
	entry := history.Entry{
		Time:     time.Now(),
		Record:   name,
		Previous: previous,
		Address:  ip,
	}
	if err := e.journal.Append(ctx, entry); err != nil {
		slog.Warn("Failed to append publication to history", "record", name, "error", err)
	}
}

// Delay maps an outcome to the normal or the retry interval.
func (e *Engine) Delay(o Outcome) time.Duration {
	if o.Failed() {
		return e.retry
	}
	return e.frequency
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
