package fifo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/bobmcallan/realperf/internal/models"
)

// Random trade sequences must conserve quantity and never leave a negative lot.
func TestMatch_RandomSequencesConserveQuantity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	symbols := []string{"AAPL", "MSFT", "ES"}
	types := []models.EventType{models.EventBuy, models.EventSell, models.EventShort, models.EventCover}

	for run := 0; run < 200; run++ {
		var events []models.NormalizedTransactionEvent
		opened := map[models.PositionKey]float64{}
		closed := map[models.PositionKey]float64{}

		for i := 0; i < 60; i++ {
			ev := trade(i, types[rng.Intn(len(types))], symbols[rng.Intn(len(symbols))],
				1+rng.Intn(28), float64(1+rng.Intn(20)), 10+rng.Float64()*100, rng.Float64())
			events = append(events, ev)
			if ev.Type.IsOpening() {
				opened[ev.Key()] += ev.Quantity
			} else {
				closed[ev.Key()] += ev.Quantity
			}
		}

		res, _ := NewMatcher(nil).Match(events)

		matched := map[models.PositionKey]float64{}
		for _, c := range res.Closed {
			if c.Quantity <= 0 {
				t.Fatalf("run %d: closed lot with non-positive quantity %v", run, c.Quantity)
			}
			matched[c.Key] += c.Quantity
		}
		incomplete := map[models.PositionKey]float64{}
		for _, it := range res.Incomplete {
			incomplete[it.Key] += it.InferredQuantity
		}
		for _, l := range res.Open {
			if l.Quantity < 0 {
				t.Fatalf("run %d: negative lot %v", run, l)
			}
		}

		for key, q := range opened {
			if got := matched[key] + res.OpenQuantity(key); math.Abs(got-q) > 1e-6 {
				t.Errorf("run %d %s: opened %v, matched+open %v", run, key, q, got)
			}
		}
		for key, q := range closed {
			if got := matched[key] + incomplete[key]; math.Abs(got-q) > 1e-6 {
				t.Errorf("run %d %s: closed %v, matched+incomplete %v", run, key, q, got)
			}
		}
	}
}

func TestMatch_IgnoresZeroQuantityAndUnknownTypes(t *testing.T) {
	res, diag := NewMatcher(nil).Match([]models.NormalizedTransactionEvent{
		trade(0, models.EventSell, "A", 1, 0, 10, 0),
		trade(1, models.EventType("DIVIDEND"), "A", 1, 5, 10, 0),
	})
	if len(res.Closed)+len(res.Open)+len(res.Incomplete) != 0 {
		t.Errorf("expected nothing matched, got %+v", res)
	}
	if len(diag.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", diag.Warnings)
	}
}

func TestMatch_PartialConsumptionAcrossManyLots(t *testing.T) {
	var events []models.NormalizedTransactionEvent
	for i := 0; i < 100; i++ {
		events = append(events, trade(i, models.EventBuy, "X", 1, 1, float64(i+1), 0))
	}
	events = append(events, trade(100, models.EventSell, "X", 2, 99.5, 200, 0))

	res, _ := NewMatcher(nil).Match(events)
	if len(res.Closed) != 100 {
		t.Fatalf("expected 100 closed portions, got %d", len(res.Closed))
	}
	if len(res.Open) != 1 || math.Abs(res.Open[0].Quantity-0.5) > 1e-9 || res.Open[0].BasisPrice != 100 {
		t.Errorf("expected half of the last lot open, got %+v", res.Open)
	}
}
