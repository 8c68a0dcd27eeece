// Package dedup removes records reported twice for the same institution
// by an aggregator feed and an authoritative feed.
package dedup

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/models"
)

const stage = "dedup"

// Key is the match key of a trade: symbol, type, date, quantity, price to
// the cent and currency.
type Key struct {
	Symbol   string
	Type     models.EventType
	Date     string
	Quantity string
	Price    string
	Currency string
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s|%s@%s|%s", k.Symbol, k.Type, k.Date, k.Quantity, k.Price, k.Currency)
}

// KeyOf builds the match key for an event. Quantities are compared to six
// decimal places so pre-multiplied derivative quantities line up.
func KeyOf(ev models.NormalizedTransactionEvent) Key {
	return Key{
		Symbol:   strings.ToUpper(ev.Symbol),
		Type:     ev.Type,
		Date:     models.DateOnly(ev.Date).Format("2006-01-02"),
		Quantity: decimal.NewFromFloat(ev.Quantity).Round(6).String(),
		Price:    decimal.NewFromFloat(ev.Price).Round(2).StringFixed(2),
		Currency: strings.ToUpper(ev.Currency),
	}
}

// CashKey is the match key of a flow or income row: date, signed amount
// to the currency's minor unit, currency and category.
type CashKey struct {
	Date     string
	Amount   string
	Currency string
	Category string
}

func (k CashKey) String() string {
	return fmt.Sprintf("%s|%s|%s %s", k.Category, k.Date, k.Amount, k.Currency)
}

func cashKey(date time.Time, amount float64, cur, category string) CashKey {
	cur = strings.ToUpper(cur)
	return CashKey{
		Date:     models.DateOnly(date).Format("2006-01-02"),
		Amount:   decimal.NewFromFloat(amount).Round(common.CurrencyFraction(cur)).String(),
		Currency: cur,
		Category: category,
	}
}

// FlowKeyOf builds the match key for a flow row.
func FlowKeyOf(f models.NormalizedFlowEvent) CashKey {
	return cashKey(f.Date, f.Amount, f.Currency, "flow:"+string(f.FlowType))
}

// IncomeKeyOf builds the match key for an income row.
func IncomeKeyOf(in models.IncomeEvent) CashKey {
	return cashKey(in.Date, in.Amount, in.Currency, "income:"+string(in.IncomeType))
}

// Deduper reconciles aggregator and authoritative streams.
type Deduper struct {
	logger *common.Logger
}

// NewDeduper creates a deduper.
func NewDeduper(logger *common.Logger) *Deduper {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Deduper{logger: logger}
}

// candidate is one record's place in the multiset comparison.
type candidate[K comparable] struct {
	inst string
	key  K
	role models.ProviderRole
}

type bucket struct {
	auth int
	agg  []int // indexes into the input, in input order
}

// surplus is a key where the aggregator reported more copies than the
// authoritative side.
type surplus[K comparable] struct {
	inst  string
	key   K
	first int
	agg   int
	auth  int
	kept  []int
}

// reconcile runs the multiset rule over n records: per institution and key
// at most as many aggregator copies are dropped as the authoritative side
// reported. The earliest aggregator copies go first.
func reconcile[K comparable](n int, at func(i int) (candidate[K], bool)) (drop map[int]bool, surpluses []surplus[K]) {
	type instKey struct {
		inst string
		key  K
	}
	buckets := make(map[instKey]*bucket)
	var order []instKey

	for i := 0; i < n; i++ {
		c, ok := at(i)
		if !ok {
			continue
		}
		ik := instKey{inst: c.inst, key: c.key}
		b, ok := buckets[ik]
		if !ok {
			b = &bucket{}
			buckets[ik] = b
			order = append(order, ik)
		}
		switch c.role {
		case models.RoleAuthoritative:
			b.auth++
		case models.RoleAggregator:
			b.agg = append(b.agg, i)
		}
	}

	drop = make(map[int]bool)
	for _, ik := range order {
		b := buckets[ik]
		if b.auth == 0 || len(b.agg) == 0 {
			continue
		}
		m := min(b.auth, len(b.agg))
		for _, idx := range b.agg[:m] {
			drop[idx] = true
		}
		if len(b.agg) > b.auth {
			surpluses = append(surpluses, surplus[K]{inst: ik.inst, key: ik.key, first: b.agg[0], agg: len(b.agg), auth: b.auth, kept: b.agg[m:]})
		}
	}
	return drop, surpluses
}

// institutionOf resolves the institution a record belongs to. Records of
// providers without a role, or without an institution, are never matched.
func institutionOf(provider, institution string, roles map[string]models.ProviderRole) (string, models.ProviderRole, bool) {
	role, ok := roles[provider]
	if !ok || institution == "" {
		return "", "", false
	}
	return strings.ToLower(institution), role, true
}

// Dedup removes aggregator copies of trades that an authoritative provider
// of the same institution also reported. Matching is a multiset
// comparison: for each key at most as many aggregator events are removed
// as the authoritative side reported. Aggregator surplus is kept, flagged
// and marked so a second pass over the output changes nothing. Output
// preserves input order and is deterministic.
//
// roles maps provider name to role; providers missing from it are never
// deduplicated.
func (d *Deduper) Dedup(events []models.NormalizedTransactionEvent, roles map[string]models.ProviderRole) ([]models.NormalizedTransactionEvent, models.Diagnostics) {
	diag := models.NewDiagnostics()

	drop, surpluses := reconcile(len(events), func(i int) (candidate[Key], bool) {
		ev := events[i]
		if ev.IsSynthetic() || ev.DedupSurplus {
			return candidate[Key]{}, false
		}
		inst, role, ok := institutionOf(ev.Provider, ev.Institution, roles)
		return candidate[Key]{inst: inst, key: KeyOf(ev), role: role}, ok
	})

	marked := make(map[int]bool)
	for _, s := range surpluses {
		diag.WarnOn(events[s.first].Date, models.KindDataQuality, models.CodeDedupAmbiguous, stage, s.key.String(),
			"aggregator reported %d fills at %s, authoritative %d; kept %d extra", s.agg, s.inst, s.auth, s.agg-s.auth)
		for _, idx := range s.kept {
			marked[idx] = true
		}
	}

	out := make([]models.NormalizedTransactionEvent, 0, len(events)-len(drop))
	for i, ev := range events {
		if drop[i] {
			diag.AddMetric(models.MetricDedupDroppedCount, 1)
			diag.AddMetric(models.MetricDedupDroppedNotional, ev.Notional())
			continue
		}
		if marked[i] {
			ev.DedupSurplus = true
		}
		out = append(out, ev)
	}

	d.logger.Debug().Int("in", len(events)).Int("dropped", len(drop)).Msg("Dedup complete")

	return out, diag
}

// DedupFlows applies the same multiset rule to provider cash-flow rows.
// Flows carry no institution of their own, so institutions maps provider
// name to institution. Inferred flows are never matched.
func (d *Deduper) DedupFlows(flows []models.NormalizedFlowEvent, roles map[string]models.ProviderRole, institutions map[string]string) ([]models.NormalizedFlowEvent, models.Diagnostics) {
	diag := models.NewDiagnostics()

	drop, surpluses := reconcile(len(flows), func(i int) (candidate[CashKey], bool) {
		f := flows[i]
		if f.Confidence == models.ConfidenceInferred || f.DedupSurplus {
			return candidate[CashKey]{}, false
		}
		inst, role, ok := institutionOf(f.Provider, institutions[f.Provider], roles)
		return candidate[CashKey]{inst: inst, key: FlowKeyOf(f), role: role}, ok
	})

	marked := make(map[int]bool)
	for _, s := range surpluses {
		diag.WarnOn(flows[s.first].Date, models.KindDataQuality, models.CodeDedupAmbiguous, stage, s.key.String(),
			"aggregator reported %d flows at %s, authoritative %d; kept %d extra", s.agg, s.inst, s.auth, s.agg-s.auth)
		for _, idx := range s.kept {
			marked[idx] = true
		}
	}

	out := make([]models.NormalizedFlowEvent, 0, len(flows)-len(drop))
	for i, f := range flows {
		if drop[i] {
			diag.AddMetric(models.MetricDedupFlowDroppedCount, 1)
			diag.AddMetric(models.MetricDedupFlowDroppedAmount, math.Abs(f.Amount))
			continue
		}
		if marked[i] {
			f.DedupSurplus = true
		}
		out = append(out, f)
	}

	d.logger.Debug().Int("in", len(flows)).Int("dropped", len(drop)).Msg("Flow dedup complete")

	return out, diag
}

// DedupIncome applies the same multiset rule to dividend and interest rows.
func (d *Deduper) DedupIncome(income []models.IncomeEvent, roles map[string]models.ProviderRole, institutions map[string]string) ([]models.IncomeEvent, models.Diagnostics) {
	diag := models.NewDiagnostics()

	drop, surpluses := reconcile(len(income), func(i int) (candidate[CashKey], bool) {
		in := income[i]
		if in.DedupSurplus {
			return candidate[CashKey]{}, false
		}
		inst, role, ok := institutionOf(in.Provider, institutions[in.Provider], roles)
		return candidate[CashKey]{inst: inst, key: IncomeKeyOf(in), role: role}, ok
	})

	marked := make(map[int]bool)
	for _, s := range surpluses {
		diag.WarnOn(income[s.first].Date, models.KindDataQuality, models.CodeDedupAmbiguous, stage, s.key.String(),
			"aggregator reported %d income rows at %s, authoritative %d; kept %d extra", s.agg, s.inst, s.auth, s.agg-s.auth)
		for _, idx := range s.kept {
			marked[idx] = true
		}
	}

	out := make([]models.IncomeEvent, 0, len(income)-len(drop))
	for i, in := range income {
		if drop[i] {
			diag.AddMetric(models.MetricDedupIncomeDroppedCount, 1)
			diag.AddMetric(models.MetricDedupIncomeDroppedAmount, math.Abs(in.Amount))
			continue
		}
		if marked[i] {
			in.DedupSurplus = true
		}
		out = append(out, in)
	}

	d.logger.Debug().Int("in", len(income)).Int("dropped", len(drop)).Msg("Income dedup complete")

	return out, diag
}
