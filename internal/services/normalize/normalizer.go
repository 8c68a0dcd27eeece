// Package normalize converts provider records into canonical events
package normalize

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/models"
)

const stage = "normalize"

// Normalizer converts raw provider batches into canonical events. It holds
// no per-request state and is safe for concurrent use.
type Normalizer struct {
	baseCurrency string
	pipeline     common.PipelineConfig
	providers    map[string]common.ProviderConfig
	logger       *common.Logger
}

// NewNormalizer creates a normalizer. providers supplies per-provider
// format, role and field overrides; batches from unconfigured providers
// rely on their own Format and Role.
func NewNormalizer(baseCurrency string, pipeline common.PipelineConfig, providers []common.ProviderConfig, logger *common.Logger) *Normalizer {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	byName := make(map[string]common.ProviderConfig, len(providers))
	for _, p := range providers {
		byName[p.Name] = p
	}
	if pipeline.DefaultOptionMultiplier <= 0 {
		pipeline.DefaultOptionMultiplier = 100
	}
	return &Normalizer{
		baseCurrency: strings.ToUpper(baseCurrency),
		pipeline:     pipeline,
		providers:    byName,
		logger:       logger,
	}
}

// batchContext carries what every record of one batch shares.
type batchContext struct {
	provider    string
	institution string
	role        models.ProviderRole
	format      format
	asOf        time.Time
	diag        *models.Diagnostics
	out         *models.NormalizedBatch
}

func (b *batchContext) entity(i int) string {
	return fmt.Sprintf("%s#%d", b.provider, i)
}

// Normalize converts one provider batch. It never fails: a batch with a
// fetch error yields no events and a provider_fetch_error diagnostic, and
// malformed records are skipped with a warning.
func (n *Normalizer) Normalize(batch models.RawBatch) (models.NormalizedBatch, models.Diagnostics) {
	diag := models.NewDiagnostics()

	var cfg *common.ProviderConfig
	if c, ok := n.providers[batch.Provider]; ok {
		cfg = &c
	}

	formatName := batch.Format
	role := batch.Role
	institution := batch.Institution
	if cfg != nil {
		if formatName == "" {
			formatName = cfg.Format
		}
		if role == "" {
			role = models.ProviderRole(cfg.Role)
		}
		if institution == "" {
			institution = cfg.Institution
		}
	}
	if role == "" {
		role = models.RoleAuthoritative
	}

	out := models.NormalizedBatch{
		Provider:     batch.Provider,
		Institution:  normalizeInstitution(institution),
		Role:         role,
		Transactions: []models.NormalizedTransactionEvent{},
		Flows:        []models.NormalizedFlowEvent{},
		Income:       []models.IncomeEvent{},
		Balances:     []models.CashBalanceReport{},
		Positions:    []models.ReportedPosition{},
		Status: models.ProviderStatus{
			Provider:            batch.Provider,
			Institution:         normalizeInstitution(institution),
			Role:                role,
			Coverage:            models.DateRange{Start: batch.Meta.CoverageStart, End: batch.Meta.CoverageEnd},
			AccountCoverage:     batch.Meta.AccountCoverage,
			PaginationExhausted: batch.Meta.PaginationExhausted,
			FlowsReported:       batch.Meta.FlowsReported,
			Error:               batch.Meta.Error,
			Attempts:            batch.Meta.Attempts,
			RecordCount:         len(batch.Records),
		},
	}

	if batch.Meta.HasError() {
		perr := models.NewProviderFetchError(batch.Provider, fmt.Errorf("%s", batch.Meta.Error))
		diag.Warn(perr.Kind, models.CodeProviderFetchFailed, stage, batch.Provider, "%s", perr.Message)
		out.Status.RecordCount = 0
		n.logger.Warn().Str("provider", batch.Provider).Str("error", batch.Meta.Error).Msg("Provider fetch failed, continuing without it")
		return out, diag
	}
	if !batch.Meta.PaginationExhausted {
		diag.Warn(models.KindDataQuality, models.CodePaginationIncomplete, stage, batch.Provider,
			"pagination not exhausted; history may be truncated")
	}

	bc := &batchContext{
		provider:    batch.Provider,
		institution: out.Institution,
		role:        role,
		format:      resolveFormat(formatName, cfg),
		asOf:        batch.Meta.CoverageEnd,
		diag:        &diag,
		out:         &out,
	}

	for i, raw := range batch.Records {
		r := record{fields: raw.Fields, format: bc.format}
		var err error
		switch raw.Kind {
		case models.RecordPosition:
			err = n.position(bc, r, i)
		case models.RecordBalance:
			err = n.balance(bc, r, i)
		default:
			err = n.activity(bc, r, i)
		}
		if err != nil {
			out.Status.SkippedRecords++
			diag.Warn(models.KindDataQuality, models.CodeMalformedRecord, stage, bc.entity(i), "%v", err)
			diag.AddMetric(models.MetricMalformedRecords, 1)
		}
	}

	out.Status.TransactionCount = len(out.Transactions)
	out.Status.FlowCount = len(out.Flows)
	out.Status.IncomeCount = len(out.Income)

	n.logger.Debug().
		Str("provider", batch.Provider).
		Str("format", bc.format.name).
		Int("records", len(batch.Records)).
		Int("transactions", len(out.Transactions)).
		Int("flows", len(out.Flows)).
		Int("income", len(out.Income)).
		Int("skipped", out.Status.SkippedRecords).
		Msg("Batch normalized")

	return out, diag
}

func (n *Normalizer) activity(bc *batchContext, r record, i int) error {
	rawAction := r.str(fieldAction)
	act, ok := bc.format.classify(rawAction)
	if !ok {
		return fmt.Errorf("unrecognised action %q", rawAction)
	}
	if act == actIgnore {
		return nil
	}

	oc := strings.ToUpper(r.str(fieldOpenClose))
	switch {
	case act == actSell && strings.Contains(oc, "O"):
		act = actShort
	case act == actBuy && strings.Contains(oc, "C") && !strings.Contains(oc, "O"):
		act = actCover
	}

	date, ok := r.date(fieldDate)
	if !ok {
		return fmt.Errorf("missing or unparseable date %q", r.str(fieldDate))
	}

	switch act {
	case actBuy, actSell, actShort, actCover:
		return n.trade(bc, r, i, act, date)
	case actDividend, actInterest:
		return n.income(bc, r, i, act, date)
	default:
		return n.flow(bc, r, i, act, date)
	}
}

func (n *Normalizer) trade(bc *batchContext, r record, i int, act action, date time.Time) error {
	rawSymbol := r.str(fieldSymbol)
	if rawSymbol == "" {
		return fmt.Errorf("trade without symbol")
	}
	qty, ok := r.num(fieldQuantity)
	if !ok || qty == 0 {
		return fmt.Errorf("trade %s without quantity", rawSymbol)
	}
	price, ok := r.num(fieldPrice)
	if !ok {
		return fmt.Errorf("trade %s without price", rawSymbol)
	}
	fee, _ := r.num(fieldFee)

	class := detectClass(r.str(fieldAssetClass), rawSymbol)
	if class == models.InstrumentCash {
		bc.diag.Warn(models.KindDataQuality, models.CodeUnsupportedRecord, stage, bc.entity(i),
			"currency conversion %s ignored", rawSymbol)
		bc.diag.AddMetric(models.MetricUnsupportedRecords, 1)
		return nil
	}

	symbol, deriv := n.instrument(bc, r, i, class, rawSymbol)
	multiplier := 1.0
	if deriv != nil {
		multiplier = deriv.Multiplier
	}

	ev := models.NormalizedTransactionEvent{
		ID:              eventID(bc.provider, r.str(fieldID), i),
		Seq:             i,
		Symbol:          symbol,
		Type:            models.EventType(act),
		Date:            date,
		Quantity:        math.Abs(qty) * multiplier,
		Price:           math.Abs(price),
		Fee:             math.Abs(fee),
		Currency:        n.currency(bc, r, i),
		InstrumentClass: class,
		Provider:        bc.provider,
		Institution:     n.institution(bc, r),
		AccountID:       r.str(fieldAccount),
		ExternalID:      r.str(fieldID),
		Source:          models.SourceObserved,
		Derivative:      deriv,
	}
	bc.out.Transactions = append(bc.out.Transactions, ev)
	return nil
}

// instrument canonicalizes the symbol and resolves the contract multiplier.
func (n *Normalizer) instrument(bc *batchContext, r record, i int, class models.InstrumentClass, rawSymbol string) (string, *models.DerivativeInfo) {
	recMult, hasMult := r.num(fieldMultiplier)
	hasMult = hasMult && recMult > 0

	switch class {
	case models.InstrumentOption:
		deriv := &models.DerivativeInfo{IsOption: true, Multiplier: n.pipeline.DefaultOptionMultiplier}
		if hasMult {
			deriv.Multiplier = recMult
		}
		strike, _ := r.num(fieldStrike)
		contract, ok := buildOptionContract(r.str(fieldUnderlying), r.str(fieldExpiry), r.str(fieldRight), strike)
		if !ok {
			contract, ok = parseOptionSymbol(rawSymbol)
		}
		if !ok {
			bc.diag.Warn(models.KindDataQuality, models.CodeMalformedRecord, stage, bc.entity(i),
				"option symbol %q could not be parsed; kept as reported", rawSymbol)
			return canonicalEquity(rawSymbol), deriv
		}
		deriv.Underlying = contract.Root
		deriv.Strike = contract.Strike.String()
		deriv.Expiry = contract.Expiry
		deriv.Right = contract.Right
		return contract.Symbol(), deriv

	case models.InstrumentFutures:
		root := futuresRoot(r.str(fieldUnderlying))
		if root == "" {
			root = futuresRoot(rawSymbol)
		}
		deriv := &models.DerivativeInfo{IsFutures: true, Underlying: root}
		switch {
		case hasMult:
			deriv.Multiplier = recMult
		case n.pipeline.FuturesMultipliers[root] > 0:
			deriv.Multiplier = n.pipeline.FuturesMultipliers[root]
		default:
			deriv.Multiplier = 1
			bc.diag.Warn(models.KindDataQuality, models.CodeMissingMultiplier, stage, root,
				"no contract multiplier for %s; quantity left unscaled", root)
		}
		return root, deriv
	}

	return canonicalEquity(rawSymbol), nil
}

func (n *Normalizer) income(bc *batchContext, r record, i int, act action, date time.Time) error {
	amount, ok := n.signedAmount(bc, r)
	if !ok {
		return fmt.Errorf("%s without amount", strings.ToLower(string(act)))
	}
	if amount == 0 {
		return nil
	}
	typ := models.IncomeDividend
	if act == actInterest {
		typ = models.IncomeInterest
	}
	sym := r.str(fieldSymbol)
	if sym != "" {
		sym = canonicalEquity(sym)
	}
	bc.out.Income = append(bc.out.Income, models.IncomeEvent{
		ID:         eventID(bc.provider, r.str(fieldID), i),
		Seq:        i,
		Date:       date,
		Symbol:     sym,
		Amount:     amount,
		Currency:   n.currency(bc, r, i),
		IncomeType: typ,
		Provider:   bc.provider,
		AccountID:  r.str(fieldAccount),
		ExternalID: r.str(fieldID),
	})
	return nil
}

// flow signs the amount by action where the action fixes the direction and
// by the provider's own sign where it does not.
func (n *Normalizer) flow(bc *batchContext, r record, i int, act action, date time.Time) error {
	amount, ok := n.signedAmount(bc, r)
	if !ok {
		return fmt.Errorf("%s without amount", strings.ToLower(string(act)))
	}
	if amount == 0 {
		return nil
	}

	ev := models.NormalizedFlowEvent{
		ID:          eventID(bc.provider, r.str(fieldID), i),
		Seq:         i,
		Date:        date,
		Currency:    n.currency(bc, r, i),
		Provider:    bc.provider,
		AccountID:   r.str(fieldAccount),
		Confidence:  models.ConfidenceProviderReported,
		ExternalID:  r.str(fieldID),
		Description: r.str(fieldDescription),
	}

	switch act {
	case actDeposit:
		ev.FlowType, ev.IsExternal, ev.Amount = models.FlowContribution, true, math.Abs(amount)
	case actWithdrawal:
		ev.FlowType, ev.IsExternal, ev.Amount = models.FlowWithdrawal, true, -math.Abs(amount)
	case actDepositWithdrawal:
		ev.IsExternal, ev.Amount = true, amount
		ev.FlowType = models.FlowContribution
		if amount < 0 {
			ev.FlowType = models.FlowWithdrawal
		}
	case actFee:
		ev.FlowType, ev.Amount = models.FlowFee, -math.Abs(amount)
	case actTransfer:
		ev.FlowType, ev.Amount = models.FlowTransfer, amount
	case actTransferIn:
		ev.FlowType, ev.Amount = models.FlowTransfer, math.Abs(amount)
	case actTransferOut:
		ev.FlowType, ev.Amount = models.FlowTransfer, -math.Abs(amount)
	default:
		ev.FlowType, ev.Amount = models.FlowOther, amount
	}

	bc.out.Flows = append(bc.out.Flows, ev)
	return nil
}

func (n *Normalizer) position(bc *batchContext, r record, i int) error {
	rawSymbol := r.str(fieldSymbol)
	if rawSymbol == "" {
		return fmt.Errorf("position without symbol")
	}
	qty, ok := r.num(fieldQuantity)
	if !ok {
		return fmt.Errorf("position %s without quantity", rawSymbol)
	}
	if qty == 0 {
		return nil
	}
	class := detectClass(r.str(fieldAssetClass), rawSymbol)
	if class == models.InstrumentCash {
		return nil
	}
	symbol, deriv := n.instrument(bc, r, i, class, rawSymbol)
	multiplier := 1.0
	if deriv != nil {
		multiplier = deriv.Multiplier
	}

	dir := models.DirectionLong
	if qty < 0 {
		dir = models.DirectionShort
	}
	asOf, ok := r.date(fieldDate)
	if !ok {
		asOf = bc.asOf
	}

	bc.out.Positions = append(bc.out.Positions, models.ReportedPosition{
		Symbol:          symbol,
		Quantity:        math.Abs(qty) * multiplier,
		Direction:       dir,
		Currency:        n.currency(bc, r, i),
		InstrumentClass: class,
		Provider:        bc.provider,
		AccountID:       r.str(fieldAccount),
		AsOf:            asOf,
	})
	return nil
}

func (n *Normalizer) balance(bc *batchContext, r record, i int) error {
	bal, ok := r.num(fieldBalance)
	if !ok {
		return fmt.Errorf("balance record without balance")
	}
	date, ok := r.date(fieldDate)
	if !ok {
		date = bc.asOf
	}
	if date.IsZero() {
		return fmt.Errorf("balance record without date")
	}
	bc.out.Balances = append(bc.out.Balances, models.CashBalanceReport{
		Date:      models.DateOnly(date),
		Balance:   bal,
		Currency:  n.currency(bc, r, i),
		Provider:  bc.provider,
		AccountID: r.str(fieldAccount),
	})
	return nil
}

// signedAmount applies the provider's sign convention so positive is an
// inflow to the account.
func (n *Normalizer) signedAmount(bc *batchContext, r record) (float64, bool) {
	amount, ok := r.num(fieldAmount)
	if !ok {
		return 0, false
	}
	if bc.format.invertAmount {
		amount = -amount
	}
	return amount, true
}

// currency validates the record's currency. Missing codes mean the base
// currency; unknown codes fall back to it with a warning.
func (n *Normalizer) currency(bc *batchContext, r record, i int) string {
	code := strings.ToUpper(r.str(fieldCurrency))
	if code == "" {
		return n.baseCurrency
	}
	if !common.IsKnownCurrency(code) {
		bc.diag.Warn(models.KindDataQuality, models.CodeUnknownCurrency, stage, bc.entity(i),
			"unknown currency %q, using %s", code, n.baseCurrency)
		return n.baseCurrency
	}
	return code
}

func (n *Normalizer) institution(bc *batchContext, r record) string {
	if inst := r.str(fieldInstitution); inst != "" {
		return normalizeInstitution(inst)
	}
	return bc.institution
}

// detectClass maps the provider's asset class vocabulary, falling back to
// the symbol's shape when the provider sends none.
func detectClass(assetClass, symbol string) models.InstrumentClass {
	switch strings.ToLower(strings.TrimSpace(assetClass)) {
	case "opt", "option", "options", "equity option", "derivative", "fop", "call", "put":
		return models.InstrumentOption
	case "fut", "future", "futures", "commodity future":
		return models.InstrumentFutures
	case "cash", "cur", "currency", "fx", "forex":
		return models.InstrumentCash
	case "":
		if _, ok := parseOptionSymbol(symbol); ok {
			return models.InstrumentOption
		}
		if strings.HasPrefix(strings.TrimSpace(symbol), "/") {
			return models.InstrumentFutures
		}
	}
	return models.InstrumentEquity
}

func normalizeInstitution(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// eventID is deterministic so that normalizing the same input twice yields
// identical events.
func eventID(provider, externalID string, i int) string {
	if externalID != "" {
		return provider + ":" + externalID
	}
	return fmt.Sprintf("%s:#%d", provider, i)
}
