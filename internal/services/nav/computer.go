// Package nav values positions at month boundaries and computes Modified
// Dietz returns for the enhanced and observed-only tracks.
package nav

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/interfaces"
	"github.com/bobmcallan/realperf/internal/models"
	"github.com/bobmcallan/realperf/internal/services/cashflow"
	"github.com/bobmcallan/realperf/internal/services/currency"
	"github.com/bobmcallan/realperf/internal/services/timeline"
)

const stage = "nav"

const (
	reasonPriceNotFound      = "price_not_found"
	reasonPricingUnavailable = "pricing_unavailable"
	reasonStalePrice         = "stale_price"
)

// Input is the reconstructed history for one run.
type Input struct {
	Timeline *timeline.Timeline
	Cash     *cashflow.Series
	Periods  []models.DateRange
}

// Result holds both tracks and the selection.
type Result struct {
	Enhanced      models.TrackResult
	Observed      models.TrackResult
	Selected      models.Track
	DivergencePct float64
}

// Computer computes NAV series.
type Computer struct {
	base     string
	pipeline common.PipelineConfig
	prices   interfaces.PriceLookup
	fx       interfaces.FXRates
	logger   *common.Logger
}

// NewComputer creates a NAV computer. prices may be nil, in which case
// every position is unpriced.
func NewComputer(base string, pipeline common.PipelineConfig, prices interfaces.PriceLookup, fx interfaces.FXRates, logger *common.Logger) *Computer {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Computer{base: base, pipeline: pipeline, prices: prices, fx: fx, logger: logger}
}

type quote struct {
	price  float64
	ok     bool
	stale  bool
	reason string
}

type valuation struct {
	positions       float64
	marginPnL       float64
	futuresNotional float64
	syntheticValue  float64
	cash            float64
	unpriced        []models.UnpricedSymbol
}

func (v valuation) nav() float64 {
	return v.cash + v.positions + v.marginPnL
}

// Compute values both tracks at every boundary and derives their returns.
func (c *Computer) Compute(ctx context.Context, in Input) (Result, models.Diagnostics) {
	diag := models.NewDiagnostics()
	res := Result{Selected: models.TrackEnhanced}
	res.Enhanced.Track = models.TrackEnhanced
	res.Observed.Track = models.TrackObserved
	if len(in.Periods) == 0 || in.Timeline == nil || in.Cash == nil {
		diag.PricingCoveragePct = 100
		return res, diag
	}

	boundaries := make([]time.Time, 0, len(in.Periods)+1)
	boundaries = append(boundaries, in.Periods[0].Start.AddDate(0, 0, -1))
	for _, p := range in.Periods {
		boundaries = append(boundaries, p.End)
	}

	snaps := map[models.Track][]models.PositionSnapshot{}
	for _, b := range boundaries {
		snaps[models.TrackEnhanced] = append(snaps[models.TrackEnhanced], in.Timeline.SnapshotAt(b, true))
		snaps[models.TrackObserved] = append(snaps[models.TrackObserved], in.Timeline.SnapshotAt(b, false))
	}

	quotes := c.priceBoundaries(ctx, boundaries, snaps, &diag)
	conv := currency.NewConverter(c.base, c.fx, stage)

	for _, track := range []models.Track{models.TrackEnhanced, models.TrackObserved} {
		values := make([]valuation, len(boundaries))
		for i, b := range boundaries {
			values[i] = c.value(ctx, snaps[track][i], quotes[i], conv, &diag)
			values[i].cash = in.Cash.BalanceAt(b)
		}
		tr := c.track(track, in, values, &diag)
		if track == models.TrackEnhanced {
			res.Enhanced = tr
			diag.SetMetric(models.MetricSyntheticValue, values[0].syntheticValue)
		} else {
			res.Observed = tr
		}
	}

	c.gate(&res, &diag)

	c.logger.Debug().
		Int("months", len(in.Periods)).
		Float64("enhanced_return", res.Enhanced.CumulativeReturn).
		Float64("observed_return", res.Observed.CumulativeReturn).
		Str("selected", string(res.Selected)).
		Msg("NAV computed")

	return res, diag
}

// priceBoundaries looks up each symbol once per boundary across both
// tracks. A missing price is a per-symbol failure, never a run failure.
func (c *Computer) priceBoundaries(ctx context.Context, boundaries []time.Time, snaps map[models.Track][]models.PositionSnapshot, diag *models.Diagnostics) []map[string]quote {
	out := make([]map[string]quote, len(boundaries))
	lastKnown := make(map[string]float64)
	var total, fresh int

	for i, b := range boundaries {
		symbols := make(map[string]bool)
		for _, track := range []models.Track{models.TrackEnhanced, models.TrackObserved} {
			for _, p := range snaps[track][i].Positions {
				symbols[p.Key.Symbol] = true
			}
		}
		ordered := make([]string, 0, len(symbols))
		for s := range symbols {
			ordered = append(ordered, s)
		}
		sort.Strings(ordered)

		out[i] = make(map[string]quote, len(ordered))
		for _, sym := range ordered {
			total++
			q := c.lookup(ctx, sym, b)
			if q.ok {
				fresh++
				lastKnown[sym] = q.price
				out[i][sym] = q
				continue
			}
			if last, found := lastKnown[sym]; found && c.pipeline.CarryForwardPrices {
				diag.WarnOn(b, models.KindPricingUnavailable, models.CodeStalePrice, stage, sym,
					"%s unpriced on %s (%s); carrying forward %.4f", sym, b.Format("2006-01-02"), q.reason, last)
				out[i][sym] = quote{price: last, ok: true, stale: true, reason: reasonStalePrice}
				continue
			}
			code := models.CodePriceNotFound
			if q.reason == reasonPricingUnavailable {
				code = models.CodePricingUnavailable
			}
			diag.WarnOn(b, models.KindPricingUnavailable, code, stage, sym,
				"%s valued at 0 on %s: %s", sym, b.Format("2006-01-02"), q.reason)
			diag.AddMetric(models.MetricUnpricedPositions, 1)
			out[i][sym] = q
		}
	}

	diag.PricingCoveragePct = 100
	if total > 0 {
		diag.PricingCoveragePct = 100 * float64(fresh) / float64(total)
	}
	return out
}

func (c *Computer) lookup(ctx context.Context, symbol string, date time.Time) quote {
	if c.prices == nil {
		return quote{reason: reasonPricingUnavailable}
	}
	px, err := c.prices.Price(ctx, symbol, date)
	switch {
	case err == nil && px > 0 && !math.IsInf(px, 0):
		return quote{price: px, ok: true}
	case err == nil, errors.Is(err, models.ErrPriceNotFound):
		return quote{reason: reasonPriceNotFound}
	default:
		c.logger.Debug().Str("symbol", symbol).Err(err).Msg("Price lookup failed")
		return quote{reason: reasonPricingUnavailable}
	}
}

// value marks a snapshot to market. Fully-funded positions contribute
// signed market value; futures contribute mark-to-market against their
// FIFO basis, and their realized P&L is carried as margin P&L.
func (c *Computer) value(ctx context.Context, snap models.PositionSnapshot, quotes map[string]quote, conv *currency.Converter, diag *models.Diagnostics) valuation {
	var v valuation
	for _, p := range snap.Positions {
		q := quotes[p.Key.Symbol]
		if !q.ok {
			v.unpriced = append(v.unpriced, models.UnpricedSymbol{Symbol: p.Key.Symbol, Reason: q.reason, Qty: p.Quantity})
			continue
		}
		if q.stale {
			v.unpriced = append(v.unpriced, models.UnpricedSymbol{Symbol: p.Key.Symbol, Reason: q.reason, Qty: p.Quantity})
		}
		rate := conv.Rate(ctx, p.Key.Currency, snap.Date, diag)
		sign := p.Key.Direction.Sign()
		if p.InstrumentClass.IsMargined() {
			v.positions += sign * p.Quantity * (q.price - p.AvgBasis) * rate
			v.futuresNotional += p.Quantity * q.price * rate
			continue
		}
		v.positions += sign * p.Quantity * q.price * rate
		v.syntheticValue += sign * p.SyntheticQty * q.price * rate
	}
	for cur, pnl := range snap.RealizedMarginPnL {
		v.marginPnL += conv.ToBase(ctx, pnl, cur, snap.Date, diag)
	}
	return v
}

// track builds one track's monthly series from boundary valuations.
func (c *Computer) track(name models.Track, in Input, values []valuation, diag *models.Diagnostics) models.TrackResult {
	tr := models.TrackResult{Track: name, Months: make([]models.MonthlyNAVSnapshot, len(in.Periods))}
	growth := make([]float64, len(in.Periods))

	for i, p := range in.Periods {
		var bucket cashflow.MonthBucket
		if i < len(in.Cash.Months) {
			bucket = in.Cash.Months[i]
		}
		start, end := values[i], values[i+1]
		m := models.MonthlyNAVSnapshot{
			Month:           models.MonthKey(p.Start),
			PeriodStart:     p.Start,
			PeriodEnd:       p.End,
			StartValue:      start.nav(),
			EndValue:        end.nav(),
			NetFlow:         bucket.NetFlow,
			WeightedFlow:    bucket.WeightedFlow,
			CashBalance:     end.cash,
			PositionsValue:  end.positions,
			MarginPnL:       end.marginPnL,
			FuturesNotional: end.futuresNotional,
			SyntheticValue:  end.syntheticValue,
			Breakdown:       bucket.Breakdown,
			Unpriced:        end.unpriced,
		}
		m.Return, m.Degenerate = modifiedDietz(m.StartValue, m.EndValue, m.NetFlow, m.WeightedFlow, bucket.Inflow)
		if m.Degenerate {
			diag.WarnOn(p.End, models.KindDataQuality, models.CodeDegenerateStartValue, stage, string(name)+"/"+m.Month,
				"start value %.2f with no inflow; %s return forced to 0", m.StartValue, m.Month)
			if name == models.TrackEnhanced {
				diag.AddMetric(models.MetricDegenerateMonths, 1)
			}
		}
		tr.Months[i] = m
		growth[i] = 1 + m.Return
	}

	tr.CumulativeReturn = floats.Prod(growth) - 1
	tr.AnnualizedReturn = annualize(tr.CumulativeReturn, models.DateRange{Start: in.Periods[0].Start, End: in.Periods[len(in.Periods)-1].End})
	tr.XIRR = xirr(investorFlows(in, tr))
	return tr
}

// modifiedDietz returns (V_end − V_start − flow) / (V_start + weighted).
// A non-positive start value with no inflow, or a non-positive
// denominator, yields 0 and reports the month as degenerate.
func modifiedDietz(start, end, netFlow, weighted, inflow float64) (float64, bool) {
	denom := start + weighted
	if (start <= 0 && inflow <= 0) || denom <= 0 {
		return 0, true
	}
	r := (end - start - netFlow) / denom
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, true
	}
	return r, false
}

// annualize converts a cumulative return to an annual rate. Periods under
// a year are returned unannualized.
func annualize(cumulative float64, period models.DateRange) float64 {
	days := period.Days()
	if days < 365 || cumulative <= -1 {
		return cumulative
	}
	return math.Pow(1+cumulative, 365/float64(days)) - 1
}

// investorFlows renders a track as investor cash flows: the opening value
// and contributions paid in, withdrawals and the closing value paid out.
func investorFlows(in Input, tr models.TrackResult) []cashFlow {
	window := models.DateRange{Start: in.Periods[0].Start, End: in.Periods[len(in.Periods)-1].End}
	var flows []cashFlow
	if v := tr.Months[0].StartValue; v != 0 {
		flows = append(flows, cashFlow{date: window.Start, amount: -v})
	}
	for _, f := range in.Cash.ExternalFlows {
		if window.Contains(f.Date) {
			flows = append(flows, cashFlow{date: models.DateOnly(f.Date), amount: -f.Amount})
		}
	}
	flows = append(flows, cashFlow{date: window.End, amount: tr.Final().EndValue})
	return flows
}

// gate compares the tracks. A cumulative-return gap above the threshold
// raises a data-quality warning and, when configured, selects the lower
// of the two returns.
func (c *Computer) gate(res *Result, diag *models.Diagnostics) {
	diffs := make([]float64, len(res.Enhanced.Months))
	for i := range diffs {
		diffs[i] = res.Enhanced.Months[i].Return - res.Observed.Months[i].Return
	}
	res.DivergencePct = math.Abs(res.Enhanced.CumulativeReturn-res.Observed.CumulativeReturn) * 100
	diag.SetMetric(models.MetricSensitivityDivergencePct, res.DivergencePct)

	if res.DivergencePct <= c.pipeline.SensitivityThresholdPct {
		return
	}
	var mean, std float64
	if len(diffs) > 0 {
		mean, std = stat.MeanStdDev(diffs, nil)
	}
	if math.IsNaN(std) {
		std = 0
	}
	diag.Warn(models.KindDataQuality, models.CodeSensitivityDivergence, stage, "",
		"enhanced and observed-only returns diverge by %.2f points (threshold %.2f; monthly gap mean %.4f, sd %.4f)",
		res.DivergencePct, c.pipeline.SensitivityThresholdPct, mean, std)
	if c.pipeline.PreferConservativeTrack && res.Observed.CumulativeReturn < res.Enhanced.CumulativeReturn {
		res.Selected = models.TrackObserved
	}
}
