package normalize

import (
	"strings"

	"github.com/bobmcallan/realperf/internal/common"
)

// Canonical field names. A format maps each to one or more provider field
// names, tried in order; dotted names reach into nested objects.
const (
	fieldAction      = "action"
	fieldOpenClose   = "open_close"
	fieldSymbol      = "symbol"
	fieldDate        = "date"
	fieldQuantity    = "quantity"
	fieldPrice       = "price"
	fieldFee         = "fee"
	fieldAmount      = "amount"
	fieldCurrency    = "currency"
	fieldAssetClass  = "asset_class"
	fieldMultiplier  = "multiplier"
	fieldUnderlying  = "underlying"
	fieldStrike      = "strike"
	fieldExpiry      = "expiry"
	fieldRight       = "right"
	fieldAccount     = "account"
	fieldID          = "id"
	fieldDescription = "description"
	fieldInstitution = "institution"
	fieldBalance     = "balance"
)

// action is the canonical activity vocabulary.
type action string

const (
	actBuy               action = "BUY"
	actSell              action = "SELL"
	actShort             action = "SHORT"
	actCover             action = "COVER"
	actDividend          action = "DIVIDEND"
	actInterest          action = "INTEREST"
	actDeposit           action = "DEPOSIT"
	actWithdrawal        action = "WITHDRAWAL"
	actDepositWithdrawal action = "DEPOSIT_WITHDRAWAL" // direction from the amount sign
	actFee               action = "FEE"
	actTransfer          action = "TRANSFER"
	actTransferIn        action = "TRANSFER_IN"
	actTransferOut       action = "TRANSFER_OUT"
	actOther             action = "OTHER"
	actIgnore            action = "IGNORE"
)

// format describes one provider's record layout.
type format struct {
	name   string
	fields map[string][]string
	types  map[string]action
	// invertAmount is set for providers that report cash leaving the
	// account as a positive amount.
	invertAmount bool
}

// commonTypes is the action vocabulary shared by every format. Keys are
// lower-cased provider values.
var commonTypes = map[string]action{
	"buy":                          actBuy,
	"bot":                          actBuy,
	"bought":                       actBuy,
	"buy to open":                  actBuy,
	"buy_to_open":                  actBuy,
	"sell":                         actSell,
	"sld":                          actSell,
	"sold":                         actSell,
	"sell to close":                actSell,
	"sell_to_close":                actSell,
	"short":                        actShort,
	"sell short":                   actShort,
	"sell_short":                   actShort,
	"sell to open":                 actShort,
	"sell_to_open":                 actShort,
	"cover":                        actCover,
	"buy to cover":                 actCover,
	"buy_to_cover":                 actCover,
	"buy to close":                 actCover,
	"buy_to_close":                 actCover,
	"dividend":                     actDividend,
	"dividends":                    actDividend,
	"cash dividend":                actDividend,
	"qualified dividend":           actDividend,
	"non-qualified div":            actDividend,
	"payment in lieu of dividends": actDividend,
	"interest":                     actInterest,
	"bank interest":                actInterest,
	"credit interest":              actInterest,
	"broker interest received":     actInterest,
	"deposit":                      actDeposit,
	"contribution":                 actDeposit,
	"wire funds received":          actDeposit,
	"withdrawal":                   actWithdrawal,
	"wire funds":                   actWithdrawal,
	"deposits/withdrawals":         actDepositWithdrawal,
	"moneylink transfer":           actDepositWithdrawal,
	"fee":                          actFee,
	"fees":                         actFee,
	"other fees":                   actFee,
	"service fee":                  actFee,
	"adr mgmt fee":                 actFee,
	"account fee":                  actFee,
	"withholding tax":              actFee,
	"transfer":                     actTransfer,
	"journal":                      actTransfer,
	"internal transfer":            actTransfer,
	"transfer in":                  actTransferIn,
	"transfer out":                 actTransferOut,
	"cancel":                       actIgnore,
	"split":                        actIgnore,
	"other":                        actOther,
}

var formats = map[string]format{
	"plaid": {
		name: "plaid",
		fields: map[string][]string{
			fieldAction:      {"subtype", "type"},
			fieldSymbol:      {"ticker_symbol", "security.ticker_symbol", "symbol"},
			fieldDate:        {"date"},
			fieldQuantity:    {"quantity"},
			fieldPrice:       {"price", "institution_price"},
			fieldFee:         {"fees"},
			fieldAmount:      {"amount"},
			fieldCurrency:    {"iso_currency_code", "unofficial_currency_code"},
			fieldAssetClass:  {"security_type", "security.type"},
			fieldUnderlying:  {"option_contract.underlying_security_ticker"},
			fieldStrike:      {"option_contract.strike_price"},
			fieldExpiry:      {"option_contract.expiration_date"},
			fieldRight:       {"option_contract.contract_type"},
			fieldAccount:     {"account_id"},
			fieldID:          {"investment_transaction_id", "id"},
			fieldDescription: {"name"},
			fieldBalance:     {"balances.current", "balance"},
		},
		types: map[string]action{
			"buy to cover": actCover,
			"sell short":   actShort,
			"cash":         actOther,
		},
		invertAmount: true,
	},
	"snaptrade": {
		name: "snaptrade",
		fields: map[string][]string{
			fieldAction:      {"type"},
			fieldSymbol:      {"symbol.symbol", "symbol"},
			fieldDate:        {"trade_date", "settlement_date"},
			fieldQuantity:    {"units", "quantity"},
			fieldPrice:       {"price"},
			fieldFee:         {"fee"},
			fieldAmount:      {"amount"},
			fieldCurrency:    {"currency.code", "currency"},
			fieldAssetClass:  {"symbol.type.code", "instrument_type"},
			fieldUnderlying:  {"option_symbol.underlying_symbol.symbol"},
			fieldStrike:      {"option_symbol.strike_price"},
			fieldExpiry:      {"option_symbol.expiration_date"},
			fieldRight:       {"option_symbol.option_type"},
			fieldAccount:     {"account.id", "account_id"},
			fieldID:          {"id"},
			fieldDescription: {"description"},
			fieldInstitution: {"institution"},
			fieldBalance:     {"cash", "balance"},
		},
		types: map[string]action{
			"rei":              actIgnore,
			"optionexpiration": actIgnore,
			"optionassignment": actIgnore,
			"optionexercise":   actIgnore,
			"contribution":     actDeposit,
			"withdrawal":       actWithdrawal,
		},
	},
	"ibkr_flex": {
		name: "ibkr_flex",
		fields: map[string][]string{
			fieldAction:      {"buySell", "type"},
			fieldOpenClose:   {"openCloseIndicator"},
			fieldSymbol:      {"symbol"},
			fieldDate:        {"tradeDate", "dateTime", "reportDate"},
			fieldQuantity:    {"quantity", "position"},
			fieldPrice:       {"tradePrice", "markPrice"},
			fieldFee:         {"ibCommission"},
			fieldAmount:      {"amount"},
			fieldCurrency:    {"currency"},
			fieldAssetClass:  {"assetCategory"},
			fieldMultiplier:  {"multiplier"},
			fieldUnderlying:  {"underlyingSymbol"},
			fieldStrike:      {"strike"},
			fieldExpiry:      {"expiry"},
			fieldRight:       {"putCall"},
			fieldAccount:     {"accountId"},
			fieldID:          {"transactionID", "tradeID"},
			fieldDescription: {"description"},
			fieldBalance:     {"endingCash"},
		},
		types: map[string]action{
			"commission adjustments": actFee,
			"broker interest paid":   actFee,
		},
	},
	"schwab": {
		name: "schwab",
		fields: map[string][]string{
			fieldAction:      {"action"},
			fieldSymbol:      {"symbol"},
			fieldDate:        {"date"},
			fieldQuantity:    {"quantity"},
			fieldPrice:       {"price"},
			fieldFee:         {"fees", "fees_and_comm"},
			fieldAmount:      {"amount"},
			fieldCurrency:    {"currency"},
			fieldAssetClass:  {"security_type"},
			fieldAccount:     {"account"},
			fieldID:          {"id"},
			fieldDescription: {"description"},
			fieldBalance:     {"cash_balance", "balance"},
		},
		types: map[string]action{
			"reinvest dividend": actDividend,
			"reinvest shares":   actBuy,
			"expired":           actIgnore,
		},
	},
}

// genericFormat is used for unknown format names; it accepts canonical
// field names directly.
var genericFormat = format{
	name: "generic",
	fields: map[string][]string{
		fieldAction:      {"action", "type"},
		fieldOpenClose:   {"open_close"},
		fieldSymbol:      {"symbol"},
		fieldDate:        {"date"},
		fieldQuantity:    {"quantity"},
		fieldPrice:       {"price"},
		fieldFee:         {"fee"},
		fieldAmount:      {"amount"},
		fieldCurrency:    {"currency"},
		fieldAssetClass:  {"asset_class"},
		fieldMultiplier:  {"multiplier"},
		fieldUnderlying:  {"underlying"},
		fieldStrike:      {"strike"},
		fieldExpiry:      {"expiry"},
		fieldRight:       {"right"},
		fieldAccount:     {"account"},
		fieldID:          {"id"},
		fieldDescription: {"description"},
		fieldInstitution: {"institution"},
		fieldBalance:     {"balance"},
	},
}

// resolveFormat returns the format for name with the provider's
// configured overrides applied on top.
func resolveFormat(name string, cfg *common.ProviderConfig) format {
	base, ok := formats[strings.ToLower(name)]
	if !ok {
		base = genericFormat
	}

	f := format{
		name:         base.name,
		fields:       make(map[string][]string, len(base.fields)),
		types:        make(map[string]action, len(commonTypes)+len(base.types)),
		invertAmount: base.invertAmount,
	}
	for k, v := range base.fields {
		f.fields[k] = v
	}
	for k, v := range commonTypes {
		f.types[k] = v
	}
	for k, v := range base.types {
		f.types[k] = v
	}

	if cfg != nil {
		for canonical, provider := range cfg.Fields {
			var names []string
			for _, n := range strings.Split(provider, ",") {
				if n = strings.TrimSpace(n); n != "" {
					names = append(names, n)
				}
			}
			if len(names) > 0 {
				f.fields[canonical] = names
			}
		}
		for raw, canonical := range cfg.TypeAliases {
			f.types[strings.ToLower(strings.TrimSpace(raw))] = action(strings.ToUpper(strings.TrimSpace(canonical)))
		}
	}
	return f
}

// classify maps a provider action to the canonical vocabulary.
func (f format) classify(raw string) (action, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return "", false
	}
	if a, ok := f.types[key]; ok {
		return a, true
	}
	// Canonical values pass through in any case.
	switch a := action(strings.ToUpper(key)); a {
	case actBuy, actSell, actShort, actCover, actDividend, actInterest, actDeposit,
		actWithdrawal, actDepositWithdrawal, actFee, actTransfer, actTransferIn, actTransferOut, actOther:
		return a, true
	}
	return "", false
}
