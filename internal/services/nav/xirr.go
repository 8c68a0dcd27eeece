package nav

import (
	"math"
	"sort"
	"time"
)

// cashFlow is one dated amount from the investor's point of view:
// negative is money put in, positive is money taken out.
type cashFlow struct {
	date   time.Time
	amount float64
}

// xirr returns the annualized money-weighted return of flows as a
// fraction, or 0 when it cannot be computed.
func xirr(flows []cashFlow) float64 {
	if len(flows) < 2 {
		return 0
	}
	sort.SliceStable(flows, func(i, j int) bool { return flows[i].date.Before(flows[j].date) })

	hasNeg, hasPos := false, false
	for _, f := range flows {
		if f.amount < 0 {
			hasNeg = true
		}
		if f.amount > 0 {
			hasPos = true
		}
	}
	if !hasNeg || !hasPos {
		return 0
	}
	if flows[len(flows)-1].date.Sub(flows[0].date) < 24*time.Hour {
		return 0
	}

	rate := solveXIRR(flows)
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0
	}
	return rate
}

// solveXIRR finds r with NPV(r) = 0 by Newton-Raphson, falling back to
// bisection when it does not converge.
func solveXIRR(flows []cashFlow) float64 {
	const (
		maxIter = 100
		tol     = 1e-7
		minRate = -0.999
		maxRate = 100.0
	)

	years := make([]float64, len(flows))
	for i, f := range flows {
		years[i] = f.date.Sub(flows[0].date).Hours() / 24 / 365.25
	}

	var paidIn, paidOut float64
	for _, f := range flows {
		if f.amount < 0 {
			paidIn -= f.amount
		} else {
			paidOut += f.amount
		}
	}
	rate := 0.1
	if paidIn > 0 {
		if simple := paidOut/paidIn - 1; simple > -0.9 && simple < 10 {
			rate = simple
		}
	}

	for iter := 0; iter < maxIter; iter++ {
		var npv, dnpv float64
		base := 1 + rate
		for i, f := range flows {
			discount := math.Pow(base, years[i])
			if discount == 0 {
				continue
			}
			npv += f.amount / discount
			if years[i] != 0 {
				dnpv -= years[i] * f.amount / (discount * base)
			}
		}
		if math.Abs(npv) < tol {
			return rate
		}
		if dnpv == 0 {
			break
		}
		rate -= npv / dnpv
		if rate < minRate {
			rate = minRate
		}
		if rate > maxRate {
			rate = maxRate
		}
	}
	return bisectXIRR(flows, years)
}

func bisectXIRR(flows []cashFlow, years []float64) float64 {
	const (
		maxIter = 200
		tol     = 1e-6
	)
	npvAt := func(rate float64) float64 {
		var sum float64
		for i, f := range flows {
			sum += f.amount / math.Pow(1+rate, years[i])
		}
		return sum
	}

	lo, hi := -0.99, 10.0
	npvLo, npvHi := npvAt(lo), npvAt(hi)
	if npvLo*npvHi > 0 {
		return math.NaN()
	}
	for iter := 0; iter < maxIter; iter++ {
		mid := (lo + hi) / 2
		npvMid := npvAt(mid)
		if math.Abs(npvMid) < tol {
			return mid
		}
		if npvMid*npvLo < 0 {
			hi = mid
		} else {
			lo, npvLo = mid, npvMid
		}
	}
	return (lo + hi) / 2
}
