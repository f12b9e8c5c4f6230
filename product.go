package prodcache

import (
	"time"
)

// Nutrients holds per-100g nutrition values of a product.
//
// Every field is independently nullable: nil means the value is unknown,
// which is different from zero (zero is a valid nutrient value).
type Nutrients struct {
	EnergyKcal    *int
	ProteinG      *float64
	CarbG         *float64
	FatG          *float64
	SaturatedFatG *float64
	SugarsG       *float64
	FiberG        *float64
	SaltG         *float64
	SodiumG       *float64
}

// ProductRecord is the unit of caching.
//
// A ProductRecord is uniquely identified by its Barcode. Any write to the
// local store for an existing barcode is a merge-update, never a duplicate
// insert; see Store.UpsertProduct for the merge rules.
type ProductRecord struct {
	// Barcode is the natural key. Globally unique, immutable once assigned.
	Barcode string

	// Name falls back to Barcode if the remote source has no name.
	Name string

	// Brand is optional. Empty string means unknown.
	Brand string

	Nutrients Nutrients

	// ETag is the last known remote validator, used for conditional re-fetch.
	// Empty string means no validator is known.
	ETag string

	// LastFetchedAt is nil for locally-authored or never-fetched rows.
	LastFetchedAt *time.Time
}
