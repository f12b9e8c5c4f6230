package prodcache

import (
	"context"
)

// Store defines the interface of the local persistent product store.
//
// The local subpackage provides a sqlite implementation. The hybrid cache
// only mutates the store through UpsertProduct, keyed by barcode; it
// assumes the store serializes concurrent writes to the same row and that
// individual statements are atomic.
type Store interface {
	// GetProduct returns the record for the given barcode.
	//
	// If the barcode does not exist, it should return an error of
	// NoSuchProductError.
	//
	// It should never return both nil record and nil err.
	GetProduct(ctx context.Context, barcode string) (*ProductRecord, error)

	// UpsertProduct inserts the record, or merge-updates the existing row
	// with the same barcode.
	//
	// Merge rules: empty Name, Brand and ETag and nil nutrient fields and
	// LastFetchedAt mean "unspecified" and leave the stored value
	// untouched. Specified fields replace the stored value.
	UpsertProduct(ctx context.Context, record *ProductRecord) error

	// SearchProducts returns up to limit records matching query, best
	// match first.
	//
	// Matches are ranked by tier: exact name match, name prefix match,
	// whole-word match within the name, substring match in name or brand,
	// exact barcode match, barcode substring match. All name matching is
	// case-insensitive. Ties within a tier break by shorter name, then
	// alphabetical. Rows with an empty brand are not eligible.
	//
	// No rows matching is not an error: the result is just empty.
	SearchProducts(ctx context.Context, query string, limit int) ([]*ProductRecord, error)

	// InTransaction runs fn against a Store view bound to a single
	// transaction. If fn returns an error the transaction is rolled back
	// and that error is returned, otherwise it's committed.
	//
	// The Store passed to fn is only valid until fn returns.
	InTransaction(ctx context.Context, fn func(tx Store) error) error

	// Close releases resources held by the store.
	Close() error
}
