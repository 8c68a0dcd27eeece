// Package timeline reconstructs positions at month boundaries, adding
// synthetic openings for holdings whose acquisition was never observed.
package timeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/models"
	"github.com/bobmcallan/realperf/internal/services/fifo"
)

const stage = "timeline"

const quantityEpsilon = 1e-9

// Input is everything the builder needs from earlier stages.
type Input struct {
	// Events are the deduplicated observed trades.
	Events []models.NormalizedTransactionEvent
	// Matched is the FIFO result over Events alone.
	Matched fifo.Result
	// Reported are the providers' current holdings.
	Reported []models.ReportedPosition
	// Institutions maps provider name to institution, so holdings reported
	// by two feeds of one institution are not counted twice.
	Institutions map[string]string
	// Inception is the global portfolio inception date: the earlier of the
	// first activity and the first reporting period start.
	Inception time.Time
}

// Builder creates position timelines.
type Builder struct {
	logger *common.Logger
}

// NewBuilder creates a builder.
func NewBuilder(logger *common.Logger) *Builder {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Builder{logger: logger}
}

// Build synthesizes openings for reported holdings beyond the observed net
// open quantity and for incomplete trades, all dated the day before global
// inception. Futures never get a synthetic entry.
func (b *Builder) Build(in Input) (*Timeline, models.Diagnostics) {
	diag := models.NewDiagnostics()
	inception := models.DateOnly(in.Inception)
	synthDate := inception.AddDate(0, 0, -1)

	firstPrice := make(map[models.PositionKey]float64)
	for _, ev := range fifo.SortEvents(in.Events) {
		k := ev.Key()
		if _, ok := firstPrice[k]; !ok && ev.Price > 0 {
			firstPrice[k] = ev.Price
		}
	}

	var synthetic []models.SyntheticPositionEntry

	for _, it := range in.Matched.Incomplete {
		if it.Class.IsMargined() {
			diag.WarnOn(it.Date, models.KindIncompleteTrade, models.CodeFuturesIncomplete, stage, it.Key.String(),
				"no synthetic opening for unmatched futures close of %.4f", it.InferredQuantity)
			diag.AddMetric(models.MetricFuturesIncompleteSkipped, 1)
			continue
		}
		synthetic = append(synthetic, models.SyntheticPositionEntry{
			ID:              syntheticID(models.SyntheticIncompleteTrade, it.Key, it.CloseEventID),
			Key:             it.Key,
			Date:            synthDate,
			Quantity:        it.InferredQuantity,
			BasisPrice:      it.ClosePrice,
			InstrumentClass: it.Class,
			Reason:          models.SyntheticIncompleteTrade,
		})
	}

	for _, rp := range consolidateReported(in.Reported, in.Institutions) {
		key := rp.Key()
		shortfall := rp.Quantity - in.Matched.OpenQuantity(key)
		if shortfall <= quantityEpsilon {
			continue
		}
		if rp.InstrumentClass.IsMargined() {
			diag.Warn(models.KindDataQuality, models.CodeFuturesIncomplete, stage, key.String(),
				"reported futures holding of %.4f has no observed opening; not synthesized", shortfall)
			diag.AddMetric(models.MetricFuturesIncompleteSkipped, 1)
			continue
		}
		synthetic = append(synthetic, models.SyntheticPositionEntry{
			ID:              syntheticID(models.SyntheticUnobservedHolding, key, ""),
			Key:             key,
			Date:            synthDate,
			Quantity:        shortfall,
			BasisPrice:      firstPrice[key],
			InstrumentClass: rp.InstrumentClass,
			Reason:          models.SyntheticUnobservedHolding,
		})
	}

	for _, s := range synthetic {
		diag.WarnOn(s.Date, models.KindDataQuality, models.CodeSyntheticOpening, stage, s.Key.String(),
			"synthetic opening of %.4f (%s) dated %s", s.Quantity, s.Reason, s.Date.Format("2006-01-02"))
	}
	diag.AddMetric(models.MetricSyntheticCount, float64(len(synthetic)))

	observed := make([]models.NormalizedTransactionEvent, 0, len(in.Events))
	for _, ev := range fifo.SortEvents(in.Events) {
		if !ev.IsSynthetic() {
			observed = append(observed, ev)
		}
	}

	b.logger.Debug().
		Int("observed", len(observed)).
		Int("synthetic", len(synthetic)).
		Time("inception", inception).
		Msg("Timeline built")

	return &Timeline{
		Inception: inception,
		observed:  observed,
		synthetic: synthetic,
		matcher:   fifo.NewMatcher(b.logger),
	}, diag
}

// consolidateReported sums a provider's holdings across its accounts, takes
// the largest report among feeds of the same institution and sums across
// institutions.
func consolidateReported(reported []models.ReportedPosition, institutions map[string]string) []models.ReportedPosition {
	type instKey struct {
		inst string
		key  models.PositionKey
	}
	perProvider := make(map[string]map[models.PositionKey]models.ReportedPosition)
	for _, rp := range reported {
		if rp.Quantity <= 0 {
			continue
		}
		m, ok := perProvider[rp.Provider]
		if !ok {
			m = make(map[models.PositionKey]models.ReportedPosition)
			perProvider[rp.Provider] = m
		}
		agg := m[rp.Key()]
		if agg.Symbol == "" {
			agg = rp
			agg.AccountID = ""
		} else {
			agg.Quantity += rp.Quantity
		}
		m[rp.Key()] = agg
	}

	best := make(map[instKey]models.ReportedPosition)
	for provider, m := range perProvider {
		inst := strings.ToLower(institutions[provider])
		if inst == "" {
			inst = "provider:" + provider
		}
		for k, rp := range m {
			ik := instKey{inst: inst, key: k}
			if cur, ok := best[ik]; !ok || rp.Quantity > cur.Quantity {
				best[ik] = rp
			}
		}
	}

	total := make(map[models.PositionKey]models.ReportedPosition)
	for ik, rp := range best {
		if cur, ok := total[ik.key]; ok {
			cur.Quantity += rp.Quantity
			total[ik.key] = cur
			continue
		}
		rp.Provider = ""
		total[ik.key] = rp
	}

	out := make([]models.ReportedPosition, 0, len(total))
	for _, rp := range total {
		out = append(out, rp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out
}

// syntheticID is stable for the same reason, key and source so reruns on
// the same input produce identical entries.
func syntheticID(reason models.SyntheticReason, key models.PositionKey, source string) string {
	name := fmt.Sprintf("%s|%s|%s", reason, key.String(), source)
	return "syn_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
