package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/realperf/internal/models"
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"20060102;150405",
	"20060102",
	"01/02/2006",
	"2006/01/02",
}

// parseDate accepts the date layouts seen across providers. Broker
// strings like "04/15/2024 as of 04/12/2024" use the leading date.
func parseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if i := strings.Index(s, " as of "); i > 0 {
		s = s[:i]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.DateOnly(t), true
		}
	}
	return time.Time{}, false
}

// toFloat converts a loosely-typed JSON value. Strings may carry currency
// symbols, thousands separators or accounting parentheses.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" || strings.EqualFold(s, "n/a") || s == "--" {
			return 0, false
		}
		neg := false
		if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
			neg = true
			s = s[1 : len(s)-1]
		}
		s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		if neg {
			f = -f
		}
		return f, true
	}
	return 0, false
}

// toString renders scalars as strings.
func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// record gives format-aware access to a raw record's fields.
type record struct {
	fields map[string]any
	format format
}

// lookup returns the first non-empty value among the provider names
// mapped to canonical.
func (r record) lookup(canonical string) (any, bool) {
	for _, name := range r.format.fields[canonical] {
		if v, ok := dig(r.fields, name); ok && v != nil {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

func (r record) str(canonical string) string {
	v, _ := r.lookup(canonical)
	return toString(v)
}

func (r record) num(canonical string) (float64, bool) {
	v, ok := r.lookup(canonical)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func (r record) date(canonical string) (time.Time, bool) {
	return parseDate(r.str(canonical))
}

// dig resolves a dotted path through nested objects.
func dig(m map[string]any, path string) (any, bool) {
	if v, ok := m[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		return nil, false
	}
	var cur any = m
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}
