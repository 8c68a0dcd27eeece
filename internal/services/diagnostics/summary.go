// Package diagnostics condenses a run's merged diagnostics for callers.
package diagnostics

import (
	"sort"

	"github.com/bobmcallan/realperf/internal/models"
)

// Summarize fills each provider's coverage of window, attaches a summary
// to d and returns it.
//
// Provider coverage is the share of the window's days a provider reported,
// zero for failed providers, averaged over providers.
func Summarize(d *models.Diagnostics, window models.DateRange) models.DiagnosticsSummary {
	s := models.DiagnosticsSummary{
		ByKind:             make(map[models.ErrorKind]int),
		ByCode:             make(map[string]int),
		ProvidersTotal:     len(d.Providers),
		PricingCoveragePct: d.PricingCoveragePct,
	}
	for _, w := range d.Warnings {
		s.Warnings++
		s.ByKind[w.Kind]++
		s.ByCode[w.Code]++
	}

	var sum float64
	for i := range d.Providers {
		p := &d.Providers[i]
		p.CoveragePct = coveragePct(*p, window)
		sum += p.CoveragePct
		if p.Failed() {
			s.ProvidersFailed = append(s.ProvidersFailed, p.Provider)
		}
	}
	sort.Strings(s.ProvidersFailed)
	if len(d.Providers) > 0 {
		s.ProviderCoveragePct = sum / float64(len(d.Providers))
	}

	d.Summary = &s
	return s
}

func coveragePct(p models.ProviderStatus, window models.DateRange) float64 {
	if p.Failed() {
		return 0
	}
	total := window.Days()
	if total <= 0 {
		return 100
	}
	cov := p.Coverage
	if cov.Start.IsZero() || cov.Start.Before(window.Start) {
		cov.Start = window.Start
	}
	if cov.End.IsZero() || cov.End.After(window.End) {
		cov.End = window.End
	}
	return 100 * float64(cov.Days()) / float64(total)
}
