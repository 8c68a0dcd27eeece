package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// OCC: root padded to six, YYMMDD, C/P, strike × 1000 in eight digits.
	occPattern = regexp.MustCompile(`^([A-Z][A-Z0-9.]{0,5})\s*(\d{6})([CP])(\d{8})$`)
	// Broker display form: "AAPL 06/21/2024 200.00 C".
	displayOptionPattern = regexp.MustCompile(`^([A-Z][A-Z0-9.]{0,5})\s+(\d{2}/\d{2}/\d{4})\s+(\d+(?:\.\d+)?)\s+([CP])$`)
	// Canonical form produced here, accepted back unchanged.
	canonicalOptionPattern = regexp.MustCompile(`^([A-Z][A-Z0-9.]{0,5})_(\d{8})_([CP])_(\d+(?:\.\d+)?)$`)

	// Month-coded contract: ESZ4, ESZ24, MESH5, CLF2025.
	futuresMonthPattern = regexp.MustCompile(`^([A-Z0-9]{1,4}?)([FGHJKMNQUVXZ])(\d{1,2}|\d{4})$`)
	// Dated contract: "ES 20241220", "ES 202412".
	futuresDatedPattern = regexp.MustCompile(`^([A-Z0-9]{1,4})\s+\d{6,8}$`)
)

// optionContract is the parsed (root, expiry, right, strike) of an option.
type optionContract struct {
	Root   string
	Expiry time.Time
	Right  string
	Strike decimal.Decimal
}

// Symbol returns ROOT_YYYYMMDD_C|P_STRIKE with trailing strike zeros stripped.
func (o optionContract) Symbol() string {
	return fmt.Sprintf("%s_%s_%s_%s", o.Root, o.Expiry.Format("20060102"), o.Right, o.Strike.String())
}

// parseOptionSymbol recognises OCC, broker display and canonical forms.
func parseOptionSymbol(raw string) (optionContract, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "-")

	if m := canonicalOptionPattern.FindStringSubmatch(s); m != nil {
		exp, err := time.Parse("20060102", m[2])
		strike, serr := decimal.NewFromString(m[4])
		if err == nil && serr == nil {
			return optionContract{Root: m[1], Expiry: exp, Right: m[3], Strike: strike}, true
		}
	}
	if m := occPattern.FindStringSubmatch(s); m != nil {
		exp, err := time.Parse("060102", m[2])
		strike, serr := decimal.NewFromString(m[4])
		if err == nil && serr == nil {
			return optionContract{Root: m[1], Expiry: exp, Right: m[3], Strike: strike.Shift(-3)}, true
		}
	}
	if m := displayOptionPattern.FindStringSubmatch(s); m != nil {
		exp, err := time.Parse("01/02/2006", m[2])
		strike, serr := decimal.NewFromString(m[3])
		if err == nil && serr == nil {
			return optionContract{Root: m[1], Expiry: exp, Right: m[4], Strike: strike}, true
		}
	}
	return optionContract{}, false
}

// buildOptionContract assembles a contract from discrete fields.
func buildOptionContract(root, expiry, right string, strike float64) (optionContract, bool) {
	root = strings.ToUpper(strings.TrimSpace(root))
	if root == "" || strike <= 0 {
		return optionContract{}, false
	}
	exp, ok := parseDate(expiry)
	if !ok {
		return optionContract{}, false
	}
	r := normalizeRight(right)
	if r == "" {
		return optionContract{}, false
	}
	return optionContract{Root: root, Expiry: exp, Right: r, Strike: decimal.NewFromFloat(strike)}, true
}

func normalizeRight(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "C", "CALL":
		return "C"
	case "P", "PUT":
		return "P"
	}
	return ""
}

// futuresRoot collapses every expiry of a contract to its root symbol.
func futuresRoot(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "/")
	if m := futuresDatedPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if m := futuresMonthPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// canonicalEquity upper-cases and trims an equity ticker.
func canonicalEquity(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
