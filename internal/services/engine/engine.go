// Package engine runs the reconstruction pipeline for one request.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/realperf/internal/clients/pricing"
	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/interfaces"
	"github.com/bobmcallan/realperf/internal/models"
	"github.com/bobmcallan/realperf/internal/services/cashflow"
	"github.com/bobmcallan/realperf/internal/services/dedup"
	"github.com/bobmcallan/realperf/internal/services/diagnostics"
	"github.com/bobmcallan/realperf/internal/services/fifo"
	"github.com/bobmcallan/realperf/internal/services/nav"
	"github.com/bobmcallan/realperf/internal/services/normalize"
	"github.com/bobmcallan/realperf/internal/services/timeline"
)

// Compile-time interface check
var _ interfaces.PerformanceEngine = (*Engine)(nil)

// Engine implements PerformanceEngine. Every run is a sequential pipeline
// over its own inputs; the engine holds no per-request state.
type Engine struct {
	config   *common.Config
	fetchers []interfaces.TransactionFetcher
	prices   interfaces.PriceLookup
	fx       interfaces.FXRates
	logger   *common.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithFetchers sets the provider fetchers used by Run.
func WithFetchers(fetchers ...interfaces.TransactionFetcher) Option {
	return func(e *Engine) { e.fetchers = append(e.fetchers, fetchers...) }
}

// WithPrices sets the month-end price source.
func WithPrices(p interfaces.PriceLookup) Option {
	return func(e *Engine) { e.prices = p }
}

// WithFXRates sets the FX source. Rates quote one unit of a currency in
// the base currency.
func WithFXRates(fx interfaces.FXRates) Option {
	return func(e *Engine) { e.fx = fx }
}

// WithClock overrides the clock used for ComputedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine.
func NewEngine(config *common.Config, logger *common.Logger, opts ...Option) *Engine {
	if config == nil {
		config = common.NewDefaultConfig()
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	e := &Engine{config: config, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run fetches every selected provider concurrently and computes the result.
func (e *Engine) Run(ctx context.Context, req models.PerformanceRequest) (*models.PerformanceResult, error) {
	base, err := e.validate(req)
	if err != nil {
		return nil, err
	}
	fetchers, err := e.selectFetchers(req.Providers)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, req, base, e.prices, e.fx, func(n *normalize.Normalizer) (normalize.Merged, models.Diagnostics) {
		return n.FetchAll(ctx, fetchers, req.Window())
	})
}

// RunBatches computes the result from already-fetched batches.
func (e *Engine) RunBatches(ctx context.Context, req models.PerformanceRequest, batches []models.RawBatch) (*models.PerformanceResult, error) {
	base, err := e.validate(req)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, req, base, e.prices, e.fx, func(n *normalize.Normalizer) (normalize.Merged, models.Diagnostics) {
		return n.NormalizeAll(batches)
	})
}

// RunBundle computes the result from a self-contained bundle. Shipped
// prices and rates take precedence over the configured sources.
func (e *Engine) RunBundle(ctx context.Context, bundle models.InputBundle) (*models.PerformanceResult, error) {
	base, err := e.validate(bundle.Request)
	if err != nil {
		return nil, err
	}
	prices, fx := e.prices, e.fx
	if len(bundle.Prices) > 0 {
		chain := pricing.Fallback{pricing.NewTable(bundle.Prices...)}
		if prices != nil {
			chain = append(chain, prices)
		}
		prices = chain
	}
	if len(bundle.FXRates) > 0 {
		chain := pricing.RateFallback{pricing.NewRateTable(bundle.FXRates...)}
		if fx != nil {
			chain = append(chain, fx)
		}
		fx = chain
	}
	return e.run(ctx, bundle.Request, base, prices, fx, func(n *normalize.Normalizer) (normalize.Merged, models.Diagnostics) {
		return n.NormalizeAll(bundle.Batches)
	})
}

// validate rejects requests the pipeline cannot run and returns the
// effective base currency.
func (e *Engine) validate(req models.PerformanceRequest) (string, error) {
	if req.End.IsZero() {
		return "", models.NewConfigurationError("end", "end date is required")
	}
	if !req.Start.IsZero() && models.DateOnly(req.End).Before(models.DateOnly(req.Start)) {
		return "", models.NewConfigurationError("end", "end %s is before start %s",
			req.End.Format("2006-01-02"), req.Start.Format("2006-01-02"))
	}
	base := strings.ToUpper(strings.TrimSpace(req.BaseCurrency))
	if base == "" {
		base = e.config.BaseCurrency
	}
	if !common.IsKnownCurrency(base) {
		return "", models.NewConfigurationError("base_currency", "unknown base currency %q", base)
	}
	return base, nil
}

func (e *Engine) selectFetchers(names []string) ([]interfaces.TransactionFetcher, error) {
	if len(e.fetchers) == 0 {
		return nil, models.NewConfigurationError("providers", "no providers configured")
	}
	if len(names) == 0 {
		return e.fetchers, nil
	}
	byName := make(map[string]interfaces.TransactionFetcher, len(e.fetchers))
	for _, f := range e.fetchers {
		byName[f.Name()] = f
	}
	selected := make([]interfaces.TransactionFetcher, 0, len(names))
	for _, name := range names {
		f, ok := byName[name]
		if !ok {
			return nil, models.NewConfigurationError(name, "provider %q is not configured", name)
		}
		selected = append(selected, f)
	}
	return selected, nil
}

type loadFunc func(*normalize.Normalizer) (normalize.Merged, models.Diagnostics)

func (e *Engine) run(ctx context.Context, req models.PerformanceRequest, base string, prices interfaces.PriceLookup, fx interfaces.FXRates, load loadFunc) (*models.PerformanceResult, error) {
	runID := uuid.NewString()
	started := e.now()
	log := e.logger.WithRunID(runID)
	pipeline := e.config.Pipeline
	diag := models.NewDiagnostics()

	timed := func(name string, fn func()) {
		t := time.Now()
		fn()
		log.Info().Str("stage", name).Dur("elapsed", time.Since(t)).Msg("Stage complete")
	}

	var merged normalize.Merged
	timed("normalize", func() {
		n := normalize.NewNormalizer(base, pipeline, e.config.Providers, e.logger)
		var d models.Diagnostics
		merged, d = load(n)
		diag.Merge(d)
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	institutions := make(map[string]string, len(merged.Statuses))
	for _, s := range merged.Statuses {
		institutions[s.Provider] = s.Institution
	}

	var events []models.NormalizedTransactionEvent
	timed("dedup", func() {
		deduper := dedup.NewDeduper(e.logger)
		var d models.Diagnostics
		events, d = deduper.Dedup(merged.Transactions, merged.Roles)
		diag.Merge(d)
		merged.Flows, d = deduper.DedupFlows(merged.Flows, merged.Roles, institutions)
		diag.Merge(d)
		merged.Income, d = deduper.DedupIncome(merged.Income, merged.Roles, institutions)
		diag.Merge(d)
	})

	var matched fifo.Result
	timed("fifo", func() {
		var d models.Diagnostics
		matched, d = fifo.NewMatcher(e.logger).Match(events)
		diag.Merge(d)
	})

	firstActivity := inceptionOf(req, events, merged)
	periodStart := firstActivity
	if !req.Start.IsZero() {
		periodStart = models.DateOnly(req.Start)
	}
	if periodStart.After(models.DateOnly(req.End)) {
		periodStart = models.DateOnly(req.End)
	}
	periods := models.MonthlyPeriods(periodStart, req.End)

	// Synthetic openings are dated the day before inception, so inception
	// may not fall after the first period start or they would enter a
	// period's end value without its start value.
	inception := firstActivity
	if periodStart.Before(inception) {
		inception = periodStart
	}

	var tl *timeline.Timeline
	timed("timeline", func() {
		var d models.Diagnostics
		tl, d = timeline.NewBuilder(e.logger).Build(timeline.Input{
			Events:       events,
			Matched:      matched,
			Reported:     merged.Positions,
			Institutions: institutions,
			Inception:    inception,
		})
		diag.Merge(d)
	})

	var fxSource interfaces.FXRates
	if fx != nil {
		fxSource = pricing.NewFXCache(base, fx, e.logger)
	}

	var cash *cashflow.Series
	timed("cashflow", func() {
		var d models.Diagnostics
		cash, d = cashflow.NewDeriver(base, pipeline, fxSource, e.logger).Derive(ctx, cashflow.Input{
			Events:   tl.Observed(),
			Closed:   matched.Closed,
			Flows:    merged.Flows,
			Income:   merged.Income,
			Balances: merged.Balances,
			Statuses: merged.Statuses,
			Periods:  periods,
		})
		diag.Merge(d)
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var computed nav.Result
	timed("nav", func() {
		var d models.Diagnostics
		computed, d = nav.NewComputer(base, pipeline, prices, fxSource, e.logger).Compute(ctx, nav.Input{
			Timeline: tl,
			Cash:     cash,
			Periods:  periods,
		})
		diag.Merge(d)
	})

	window := models.DateRange{Start: periodStart, End: models.DateOnly(req.End)}
	diag.Providers = append(diag.Providers, merged.Statuses...)
	summary := diagnostics.Summarize(&diag, window)

	result := &models.PerformanceResult{
		RunID:         runID,
		BaseCurrency:  base,
		Period:        window,
		Inception:     inception,
		Selected:      computed.Selected,
		Enhanced:      computed.Enhanced,
		Observed:      computed.Observed,
		ClosedLots:    nonNil(matched.Closed),
		OpenLots:      nonNil(matched.Open),
		Incomplete:    nonNil(matched.Incomplete),
		Synthetic:     nonNil(tl.Synthetic()),
		InferredFlows: nonNil(cash.Inferred),
		Diagnostics:   diag,
		ComputedAt:    e.now().UTC(),
	}

	log.Info().
		Str("base", base).
		Int("months", len(periods)).
		Int("events", len(events)).
		Int("warnings", summary.Warnings).
		Str("selected", string(result.Selected)).
		Float64("cumulative_return", result.SelectedTrack().CumulativeReturn).
		Dur("elapsed", e.now().Sub(started)).
		Msg("Performance run complete")

	return result, nil
}

// inceptionOf is the earliest observed activity date. With no activity it
// falls back to the requested start, then the end.
func inceptionOf(req models.PerformanceRequest, events []models.NormalizedTransactionEvent, merged normalize.Merged) time.Time {
	var earliest time.Time
	consider := func(d time.Time) {
		if d.IsZero() {
			return
		}
		d = models.DateOnly(d)
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
		}
	}
	for _, ev := range events {
		consider(ev.Date)
	}
	for _, f := range merged.Flows {
		consider(f.Date)
	}
	for _, in := range merged.Income {
		consider(in.Date)
	}
	if earliest.IsZero() {
		if !req.Start.IsZero() {
			return models.DateOnly(req.Start)
		}
		return models.DateOnly(req.End)
	}
	return earliest
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
