package interfaces

import (
	"context"

	"github.com/bobmcallan/realperf/internal/models"
)

// PerformanceEngine reconstructs monthly NAV and returns for a portfolio
type PerformanceEngine interface {
	// Run fetches from every configured provider and computes the result
	Run(ctx context.Context, req models.PerformanceRequest) (*models.PerformanceResult, error)

	// RunBatches computes the result from already-fetched provider batches
	RunBatches(ctx context.Context, req models.PerformanceRequest, batches []models.RawBatch) (*models.PerformanceResult, error)

	// RunBundle computes the result from a bundle carrying its own prices and FX rates
	RunBundle(ctx context.Context, bundle models.InputBundle) (*models.PerformanceResult, error)
}
