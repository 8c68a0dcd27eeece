// Package cashflow replays observed trades, income and provider flows into
// a running base-currency cash balance and infers external flows where
// provider coverage is missing.
package cashflow

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/interfaces"
	"github.com/bobmcallan/realperf/internal/models"
	"github.com/bobmcallan/realperf/internal/services/currency"
)

const stage = "cashflow"

// Input is the observed activity for one run.
type Input struct {
	Events   []models.NormalizedTransactionEvent
	Closed   []models.ClosedLot
	Flows    []models.NormalizedFlowEvent
	Income   []models.IncomeEvent
	Balances []models.CashBalanceReport
	Statuses []models.ProviderStatus
	// Periods are the reporting months in order. Activity before the first
	// period only moves the opening balance; activity after the last is ignored.
	Periods []models.DateRange
}

// MonthBucket is one period's cash activity in base currency.
type MonthBucket struct {
	Period       models.DateRange     `json:"period"`
	NetFlow      float64              `json:"net_flow"`
	WeightedFlow float64              `json:"weighted_flow"`
	Inflow       float64              `json:"inflow"`
	Breakdown    models.FlowBreakdown `json:"breakdown"`
	CashBalance  float64              `json:"cash_balance"`
}

type balancePoint struct {
	date    time.Time
	balance float64
}

// Series is the replayed cash history.
type Series struct {
	Months []MonthBucket
	// ExternalFlows are provider-reported and inferred external flows in
	// base currency, in date order.
	ExternalFlows []models.NormalizedFlowEvent
	Inferred      []models.NormalizedFlowEvent
	// Dropped are internal flow rows removed as duplicates of income.
	Dropped []models.NormalizedFlowEvent

	daily []balancePoint
}

// BalanceAt returns total cash at the end of date.
func (s *Series) BalanceAt(date time.Time) float64 {
	d := models.DateOnly(date)
	i := sort.Search(len(s.daily), func(i int) bool { return s.daily[i].date.After(d) })
	if i == 0 {
		return 0
	}
	return s.daily[i-1].balance
}

// Deriver builds cash series.
type Deriver struct {
	base     string
	pipeline common.PipelineConfig
	fx       interfaces.FXRates
	logger   *common.Logger
}

// NewDeriver creates a deriver reporting in base currency.
func NewDeriver(base string, pipeline common.PipelineConfig, fx interfaces.FXRates, logger *common.Logger) *Deriver {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Deriver{base: base, pipeline: pipeline, fx: fx, logger: logger}
}

type itemKind int

// Same-day processing order: activity in input order, then balance reports.
const (
	kindActivity itemKind = iota
	kindBalance
)

type item struct {
	date    time.Time
	kind    itemKind
	seq     int
	account models.AccountRef
	trade   *models.NormalizedTransactionEvent
	flow    *models.NormalizedFlowEvent
	income  *models.IncomeEvent
	balance *models.CashBalanceReport
}

// Derive replays the input. Synthetic events are refused: they are
// dropped with a warning and never move cash.
func (d *Deriver) Derive(ctx context.Context, in Input) (*Series, models.Diagnostics) {
	diag := models.NewDiagnostics()
	conv := currency.NewConverter(d.base, d.fx, stage)
	series := &Series{Months: make([]MonthBucket, len(in.Periods))}
	for i, p := range in.Periods {
		series.Months[i].Period = p
	}

	flows, dropped := dedupIncomeFlows(in.Flows, in.Income, &diag)
	series.Dropped = dropped
	windows := authoritativeWindows(in.Statuses)

	var items []item
	for i := range in.Events {
		ev := in.Events[i]
		if ev.IsSynthetic() {
			diag.WarnOn(ev.Date, models.KindDataQuality, models.CodeSyntheticInCashReplay, stage, ev.ID,
				"synthetic entry %s refused by cash replay", ev.ID)
			continue
		}
		items = append(items, item{date: models.DateOnly(ev.Date), seq: ev.Seq,
			account: models.AccountRef{Provider: ev.Provider, AccountID: ev.AccountID}, trade: &ev})
	}
	for i := range flows {
		f := flows[i]
		items = append(items, item{date: models.DateOnly(f.Date), seq: f.Seq,
			account: models.AccountRef{Provider: f.Provider, AccountID: f.AccountID}, flow: &f})
	}
	for i := range in.Income {
		inc := in.Income[i]
		items = append(items, item{date: models.DateOnly(inc.Date), seq: inc.Seq,
			account: models.AccountRef{Provider: inc.Provider, AccountID: inc.AccountID}, income: &inc})
	}
	for i := range in.Balances {
		b := in.Balances[i]
		items = append(items, item{date: models.DateOnly(b.Date), kind: kindBalance, seq: i,
			account: models.AccountRef{Provider: b.Provider, AccountID: b.AccountID}, balance: &b})
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.date.Equal(b.date) {
			return a.date.Before(b.date)
		}
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		return a.seq < b.seq
	})

	r := &replay{
		d:        d,
		ctx:      ctx,
		conv:     conv,
		diag:     &diag,
		series:   series,
		windows:  windows,
		balances: make(map[models.AccountRef]float64),
	}

	var last time.Time
	if n := len(in.Periods); n > 0 {
		last = in.Periods[n-1].End
	}

	for start := 0; start < len(items); {
		day := items[start].date
		if !last.IsZero() && day.After(last) {
			break
		}
		end := start
		touched := make(map[models.AccountRef]bool)
		var order []models.AccountRef
		for end < len(items) && items[end].date.Equal(day) {
			it := items[end]
			if !touched[it.account] {
				touched[it.account] = true
				order = append(order, it.account)
			}
			r.apply(it)
			end++
		}
		for _, acct := range order {
			r.inferShortfall(acct, day)
		}
		r.recordDay(day)
		start = end
	}

	for _, c := range in.Closed {
		if b := series.bucket(c.CloseDate); b != nil {
			b.Breakdown.RealizedPnL += conv.ToBase(ctx, c.RealizedPnL, c.Key.Currency, c.CloseDate, &diag)
		}
	}

	for i := range series.Months {
		series.Months[i].CashBalance = series.BalanceAt(series.Months[i].Period.End)
	}

	diag.AddMetric(models.MetricInferredFlowCount, float64(len(series.Inferred)))

	d.logger.Debug().
		Int("items", len(items)).
		Int("external_flows", len(series.ExternalFlows)).
		Int("inferred", len(series.Inferred)).
		Int("dropped", len(series.Dropped)).
		Msg("Cash replay complete")

	return series, diag
}

// bucket returns the month containing date, or nil.
func (s *Series) bucket(date time.Time) *MonthBucket {
	for i := range s.Months {
		if s.Months[i].Period.Contains(date) {
			return &s.Months[i]
		}
	}
	return nil
}

type replay struct {
	d        *Deriver
	ctx      context.Context
	conv     *currency.Converter
	diag     *models.Diagnostics
	series   *Series
	windows  map[models.AccountRef]models.DateRange
	balances map[models.AccountRef]float64
	inferSeq int
}

func (r *replay) apply(it item) {
	switch {
	case it.trade != nil:
		r.applyTrade(it)
	case it.flow != nil:
		r.applyFlow(it)
	case it.income != nil:
		amt := r.conv.ToBase(r.ctx, it.income.Amount, it.income.Currency, it.date, r.diag)
		r.balances[it.account] += amt
		if b := r.series.bucket(it.date); b != nil {
			b.Breakdown.Income += amt
		}
	case it.balance != nil:
		r.reconcile(it)
	}
}

// tradeCash returns the native-currency cash effect of a trade. Futures
// move cash by the fee only; their notional is returned separately.
func tradeCash(ev models.NormalizedTransactionEvent) (delta, suppressed float64) {
	if ev.InstrumentClass.IsMargined() {
		return -ev.Fee, ev.Notional()
	}
	switch ev.Type {
	case models.EventBuy, models.EventCover:
		return -(ev.Notional() + ev.Fee), 0
	case models.EventSell, models.EventShort:
		return ev.Notional() - ev.Fee, 0
	}
	return 0, 0
}

func (r *replay) applyTrade(it item) {
	ev := *it.trade
	delta, suppressed := tradeCash(ev)
	rate := r.conv.Rate(r.ctx, ev.Currency, it.date, r.diag)
	r.balances[it.account] += delta * rate
	if suppressed != 0 {
		r.diag.AddMetric(models.MetricSuppressedFuturesNotional, math.Abs(suppressed*rate))
	}
	if b := r.series.bucket(it.date); b != nil {
		b.Breakdown.Fees -= ev.Fee * rate
	}
}

func (r *replay) applyFlow(it item) {
	f := *it.flow
	amt := r.conv.ToBase(r.ctx, f.Amount, f.Currency, it.date, r.diag)
	r.balances[it.account] += amt

	b := r.series.bucket(it.date)
	switch {
	case f.IsExternal:
		converted := f
		converted.Amount, converted.Currency = amt, r.conv.Base()
		r.external(converted, b)
		if b != nil {
			if amt > 0 {
				b.Breakdown.Contributions += amt
			} else {
				b.Breakdown.Withdrawals += amt
			}
		}
	case f.FlowType == models.FlowFee:
		if b != nil {
			b.Breakdown.Fees += amt
		}
	default:
		if b != nil {
			b.Breakdown.InternalTransfers += amt
		}
	}
}

// external records an external flow into its month.
func (r *replay) external(f models.NormalizedFlowEvent, b *MonthBucket) {
	r.series.ExternalFlows = append(r.series.ExternalFlows, f)
	if b == nil {
		return
	}
	b.NetFlow += f.Amount
	b.WeightedFlow += f.Amount * models.FlowWeight(b.Period, f.Date)
	if f.Amount > 0 {
		b.Inflow += f.Amount
	}
}

// covered reports whether the account's own flow records are complete for
// date, which suppresses inference there entirely. An account without a
// window of its own falls back to its provider's.
func (r *replay) covered(acct models.AccountRef, date time.Time) bool {
	w, ok := r.windows[acct]
	if !ok {
		w, ok = r.windows[models.AccountRef{Provider: acct.Provider}]
	}
	if !ok {
		return false
	}
	if !w.Start.IsZero() && date.Before(models.DateOnly(w.Start)) {
		return false
	}
	if !w.End.IsZero() && date.After(models.DateOnly(w.End)) {
		return false
	}
	return true
}

func (r *replay) canInfer(acct models.AccountRef, date time.Time) bool {
	return r.d.pipeline.InferExternalFlows && !r.covered(acct, date)
}

// inferShortfall raises a contribution restoring an account's cash to zero
// when the day's activity left it below the tolerance.
func (r *replay) inferShortfall(acct models.AccountRef, date time.Time) {
	bal := r.balances[acct]
	if bal >= -r.d.pipeline.NegativeCashTolerance || !r.canInfer(acct, date) {
		return
	}
	r.infer(acct, date, -bal, models.FlowContribution,
		fmt.Sprintf("cash fell to %.2f with no reported funding", bal))
}

// reconcile compares a reported balance with the replayed one. A reported
// balance below the replay is an unrecorded withdrawal.
func (r *replay) reconcile(it item) {
	reported := r.conv.ToBase(r.ctx, it.balance.Balance, it.balance.Currency, it.date, r.diag)
	bal := r.balances[it.account]
	gap := reported - bal
	if gap >= -r.d.pipeline.NegativeCashTolerance || !r.canInfer(it.account, it.date) {
		return
	}
	r.infer(it.account, it.date, gap, models.FlowWithdrawal,
		fmt.Sprintf("reported balance %.2f below replayed %.2f", reported, bal))
}

func (r *replay) infer(acct models.AccountRef, date time.Time, amount float64, typ models.FlowType, reason string) {
	r.inferSeq++
	f := models.NormalizedFlowEvent{
		ID:          fmt.Sprintf("inferred:%s:%s:%s:%d", acct.Provider, acct.AccountID, date.Format("20060102"), r.inferSeq),
		Seq:         -1,
		Date:        date,
		Amount:      amount,
		Currency:    r.conv.Base(),
		FlowType:    typ,
		IsExternal:  true,
		Provider:    acct.Provider,
		AccountID:   acct.AccountID,
		Confidence:  models.ConfidenceInferred,
		Description: reason,
	}
	r.balances[acct] += amount
	r.series.Inferred = append(r.series.Inferred, f)
	b := r.series.bucket(date)
	r.external(f, b)
	if b != nil {
		b.Breakdown.InferredFlows += amount
	}
	r.diag.WarnOn(date, models.KindDataQuality, models.CodeFlowInferred, stage, acct.Provider+"/"+acct.AccountID,
		"inferred %s of %.2f %s: %s", typ, amount, r.conv.Base(), reason)
	r.diag.AddMetric(models.MetricInferredFlowTotal, amount)
}

func (r *replay) recordDay(date time.Time) {
	var total float64
	for _, b := range r.balances {
		total += b
	}
	r.series.daily = append(r.series.daily, balancePoint{date: date, balance: total})
}

// authoritativeWindows returns, per (provider, account), the window in
// which flow records are complete: the provider reports flows, the fetch
// succeeded and pagination was exhausted. The provider-wide window is keyed
// with an empty account id. A zero bound is open-ended.
func authoritativeWindows(statuses []models.ProviderStatus) map[models.AccountRef]models.DateRange {
	out := make(map[models.AccountRef]models.DateRange)
	for _, s := range statuses {
		if !s.FlowsReported || s.Failed() || !s.PaginationExhausted {
			continue
		}
		out[models.AccountRef{Provider: s.Provider}] = s.Coverage
		for account, w := range s.AccountCoverage {
			out[models.AccountRef{Provider: s.Provider, AccountID: account}] = w
		}
	}
	return out
}

type incomeKey struct {
	provider string
	account  string
	day      string
	amount   string
}

func centKey(provider, account string, date time.Time, amount float64, cur string) incomeKey {
	return incomeKey{
		provider: provider,
		account:  account,
		day:      models.DateOnly(date).Format("2006-01-02"),
		amount:   decimal.NewFromFloat(amount).Round(common.CurrencyFraction(cur)).String(),
	}
}

// dedupIncomeFlows drops internal flow rows that repeat an income row on
// (provider, account, day, amount to the cent). Each income row absorbs at
// most one flow row.
func dedupIncomeFlows(flows []models.NormalizedFlowEvent, income []models.IncomeEvent, diag *models.Diagnostics) (kept, dropped []models.NormalizedFlowEvent) {
	available := make(map[incomeKey]int, len(income))
	for _, in := range income {
		available[centKey(in.Provider, in.AccountID, in.Date, in.Amount, in.Currency)]++
	}
	kept = make([]models.NormalizedFlowEvent, 0, len(flows))
	for _, f := range flows {
		if !f.IsExternal {
			k := centKey(f.Provider, f.AccountID, f.Date, f.Amount, f.Currency)
			if available[k] > 0 {
				available[k]--
				dropped = append(dropped, f)
				diag.WarnOn(f.Date, models.KindDataQuality, models.CodeFlowIncomeDuplicate, stage, f.ID,
					"flow %s duplicates an income row of %s; kept as income", f.ID, k.amount)
				diag.AddMetric(models.MetricFlowDedupDroppedCount, 1)
				diag.AddMetric(models.MetricFlowDedupDroppedAmount, math.Abs(f.Amount))
				continue
			}
		}
		kept = append(kept, f)
	}
	return kept, dropped
}
