package normalize

import (
	"context"
	"sync"

	"github.com/bobmcallan/realperf/internal/interfaces"
	"github.com/bobmcallan/realperf/internal/models"
)

// Merged is the combined, provider-ordered output of several batches.
type Merged struct {
	Transactions []models.NormalizedTransactionEvent
	Flows        []models.NormalizedFlowEvent
	Income       []models.IncomeEvent
	Balances     []models.CashBalanceReport
	Positions    []models.ReportedPosition
	Statuses     []models.ProviderStatus
	Roles        map[string]models.ProviderRole
}

// FetchAll fetches every provider concurrently and normalizes each stream
// fully before anything is merged. Results are merged in fetcher order, so
// the outcome does not depend on which provider answers first. Fetchers
// are expected to fail open (see provider.Guarded); a returned error is
// recorded against that provider only.
func (n *Normalizer) FetchAll(ctx context.Context, fetchers []interfaces.TransactionFetcher, window models.DateRange) (Merged, models.Diagnostics) {
	type slot struct {
		batch models.NormalizedBatch
		diag  models.Diagnostics
	}
	slots := make([]slot, len(fetchers))

	var wg sync.WaitGroup
	for i, f := range fetchers {
		wg.Add(1)
		go func(i int, f interfaces.TransactionFetcher) {
			defer wg.Done()
			raw, err := f.Fetch(ctx, window)
			if err != nil {
				raw = models.RawBatch{Provider: f.Name(), Meta: models.FetchMetadata{Error: err.Error()}}
			}
			if raw.Provider == "" {
				raw.Provider = f.Name()
			}
			b, d := n.Normalize(raw)
			slots[i] = slot{batch: b, diag: d}
		}(i, f)
	}
	wg.Wait()

	batches := make([]models.NormalizedBatch, len(slots))
	diag := models.NewDiagnostics()
	for i, s := range slots {
		batches[i] = s.batch
		diag.Merge(s.diag)
	}
	return Merge(batches), diag
}

// NormalizeAll normalizes pre-fetched batches in order.
func (n *Normalizer) NormalizeAll(batches []models.RawBatch) (Merged, models.Diagnostics) {
	normalized := make([]models.NormalizedBatch, len(batches))
	diag := models.NewDiagnostics()
	for i, b := range batches {
		nb, d := n.Normalize(b)
		normalized[i] = nb
		diag.Merge(d)
	}
	return Merge(normalized), diag
}

// Merge concatenates batches in order and offsets Seq so that it is the
// global input order used as the same-day tie-break downstream. Within a
// batch Seq is the record index, shared by trades, flows and income.
func Merge(batches []models.NormalizedBatch) Merged {
	m := Merged{
		Transactions: []models.NormalizedTransactionEvent{},
		Flows:        []models.NormalizedFlowEvent{},
		Income:       []models.IncomeEvent{},
		Balances:     []models.CashBalanceReport{},
		Positions:    []models.ReportedPosition{},
		Statuses:     make([]models.ProviderStatus, 0, len(batches)),
		Roles:        make(map[string]models.ProviderRole, len(batches)),
	}

	offset := 0
	for _, b := range batches {
		next := offset
		bump := func(seq int) int {
			if offset+seq+1 > next {
				next = offset + seq + 1
			}
			return offset + seq
		}
		for _, ev := range b.Transactions {
			ev.Seq = bump(ev.Seq)
			m.Transactions = append(m.Transactions, ev)
		}
		for _, f := range b.Flows {
			f.Seq = bump(f.Seq)
			m.Flows = append(m.Flows, f)
		}
		for _, in := range b.Income {
			in.Seq = bump(in.Seq)
			m.Income = append(m.Income, in)
		}
		offset = next

		m.Balances = append(m.Balances, b.Balances...)
		m.Positions = append(m.Positions, b.Positions...)
		m.Statuses = append(m.Statuses, b.Status)
		if b.Provider != "" {
			m.Roles[b.Provider] = b.Role
		}
	}
	return m
}
