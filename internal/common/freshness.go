package common

import "time"

// Cache TTLs for collaborator lookups
const (
	FreshnessMonthEndPrice = 24 * time.Hour   // historical closes rarely change
	FreshnessFXRate        = 24 * time.Hour   // daily reference rates
	FreshnessNegativeHit   = 15 * time.Minute // not-found answers are retried sooner
)
