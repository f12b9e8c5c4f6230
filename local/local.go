// Package local implements prodcache.Store on an embedded sqlite
// database.
//
// The store owns a single products table keyed by barcode. Writes are
// merge-upserts (ON CONFLICT DO UPDATE) so a barcode never duplicates, and
// the ranked search runs as one query so the ordering is decided entirely
// by the database.
package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/foodscan/prodcache"
)

// Make sure *impl satisfies the Store interface.
var _ prodcache.Store = (*impl)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	barcode TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	brand TEXT NOT NULL DEFAULT '',
	energy_kcal INTEGER,
	protein_g REAL,
	carb_g REAL,
	fat_g REAL,
	saturated_fat_g REAL,
	sugars_g REAL,
	fiber_g REAL,
	salt_g REAL,
	sodium_g REAL,
	etag TEXT NOT NULL DEFAULT '',
	last_fetched_at INTEGER
);
CREATE INDEX IF NOT EXISTS products_name_idx ON products (name);
`

// queryer is the subset of database/sql shared by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type impl struct {
	opts Options
	// db is nil on transaction-bound views.
	db *sql.DB
	q  queryer
}

// Open opens (and creates if needed) the product store at the configured
// path.
func Open(opts Options) (prodcache.Store, error) {
	db, err := sql.Open("sqlite", opts.GetPath())
	if err != nil {
		return nil, err
	}
	// The driver is CGo-free and serializes writes itself, but a single
	// connection keeps ":memory:" databases and transactions coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("local: applying schema: %w", err)
	}
	return &impl{
		opts: opts,
		db:   db,
		q:    db,
	}, nil
}

const selectColumns = `barcode, name, brand,
energy_kcal, protein_g, carb_g, fat_g, saturated_fat_g,
sugars_g, fiber_g, salt_g, sodium_g,
etag, last_fetched_at`

func (db *impl) GetProduct(
	ctx context.Context,
	barcode string,
) (*prodcache.ProductRecord, error) {
	select {
	default:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	row := db.q.QueryRowContext(
		ctx,
		`SELECT `+selectColumns+` FROM products WHERE barcode = ?`,
		barcode,
	)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &prodcache.NoSuchProductError{Barcode: barcode}
	}
	return record, err
}

func (db *impl) UpsertProduct(
	ctx context.Context,
	record *prodcache.ProductRecord,
) error {
	select {
	default:
	case <-ctx.Done():
		return ctx.Err()
	}

	if record == nil || record.Barcode == "" {
		return errors.New("local: a barcode is required to upsert")
	}

	// Empty strings and nil pointers mean "unspecified": the stored value
	// survives the merge. This is what makes concurrent partial writes for
	// the same barcode safe to apply in any order.
	_, err := db.q.ExecContext(
		ctx,
		`INSERT INTO products (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (barcode) DO UPDATE SET
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE products.name END,
			brand = CASE WHEN excluded.brand <> '' THEN excluded.brand ELSE products.brand END,
			energy_kcal = COALESCE(excluded.energy_kcal, products.energy_kcal),
			protein_g = COALESCE(excluded.protein_g, products.protein_g),
			carb_g = COALESCE(excluded.carb_g, products.carb_g),
			fat_g = COALESCE(excluded.fat_g, products.fat_g),
			saturated_fat_g = COALESCE(excluded.saturated_fat_g, products.saturated_fat_g),
			sugars_g = COALESCE(excluded.sugars_g, products.sugars_g),
			fiber_g = COALESCE(excluded.fiber_g, products.fiber_g),
			salt_g = COALESCE(excluded.salt_g, products.salt_g),
			sodium_g = COALESCE(excluded.sodium_g, products.sodium_g),
			etag = CASE WHEN excluded.etag <> '' THEN excluded.etag ELSE products.etag END,
			last_fetched_at = COALESCE(excluded.last_fetched_at, products.last_fetched_at)`,
		record.Barcode,
		record.Name,
		record.Brand,
		nullInt(record.Nutrients.EnergyKcal),
		nullFloat(record.Nutrients.ProteinG),
		nullFloat(record.Nutrients.CarbG),
		nullFloat(record.Nutrients.FatG),
		nullFloat(record.Nutrients.SaturatedFatG),
		nullFloat(record.Nutrients.SugarsG),
		nullFloat(record.Nutrients.FiberG),
		nullFloat(record.Nutrients.SaltG),
		nullFloat(record.Nutrients.SodiumG),
		record.ETag,
		nullTime(record.LastFetchedAt),
	)
	return err
}

func (db *impl) SearchProducts(
	ctx context.Context,
	query string,
	limit int,
) ([]*prodcache.ProductRecord, error) {
	select {
	default:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}

	lowered := strings.ToLower(query)
	escaped := escapeLike(lowered)
	prefix := escaped + "%"
	word := "% " + escaped + "%"
	substring := "%" + escaped + "%"

	// One query decides the whole ordering: match tier first, shorter name
	// breaks ties, then alphabetical. Rows without a brand are filtered as
	// a data-quality guard against incomplete seed rows.
	rows, err := db.q.QueryContext(
		ctx,
		`SELECT `+selectColumns+`,
			CASE
				WHEN lower(name) = ? THEN 0
				WHEN lower(name) LIKE ? ESCAPE '\' THEN 1
				WHEN lower(name) LIKE ? ESCAPE '\' THEN 2
				WHEN lower(name) LIKE ? ESCAPE '\' OR lower(brand) LIKE ? ESCAPE '\' THEN 3
				WHEN barcode = ? THEN 4
				ELSE 5
			END AS tier
		FROM products
		WHERE brand <> '' AND (
			lower(name) = ?
			OR lower(name) LIKE ? ESCAPE '\'
			OR lower(brand) LIKE ? ESCAPE '\'
			OR barcode = ?
			OR barcode LIKE ? ESCAPE '\'
		)
		ORDER BY tier, length(name), name
		LIMIT ?`,
		lowered,
		prefix,
		word,
		substring,
		substring,
		query,
		lowered,
		substring,
		substring,
		query,
		substring,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*prodcache.ProductRecord
	for rows.Next() {
		var tier int
		record, err := scanRecordColumns(rows.Scan, &tier)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (db *impl) InTransaction(
	ctx context.Context,
	fn func(tx prodcache.Store) error,
) error {
	select {
	default:
	case <-ctx.Done():
		return ctx.Err()
	}

	if db.db == nil {
		// Already transaction-bound: run against the same transaction
		// instead of nesting.
		return fn(db)
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	view := &impl{
		opts: db.opts,
		q:    tx,
	}
	if err := fn(view); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			if logger := db.opts.GetLogger(); logger != nil {
				logger.Printf("local: rollback failed: %v", rbErr)
			}
		}
		return err
	}
	return tx.Commit()
}

func (db *impl) Close() error {
	if db.db == nil {
		return nil
	}
	return db.db.Close()
}

// escapeLike escapes the LIKE metacharacters in a query so user input
// always matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

type scanFunc func(dest ...interface{}) error

func scanRecord(row *sql.Row) (*prodcache.ProductRecord, error) {
	return scanRecordColumns(row.Scan)
}

func scanRecordColumns(
	scan scanFunc,
	extra ...interface{},
) (*prodcache.ProductRecord, error) {
	var record prodcache.ProductRecord
	var energy sql.NullInt64
	var protein, carb, fat, saturated sql.NullFloat64
	var sugars, fiber, salt, sodium sql.NullFloat64
	var fetchedAt sql.NullInt64

	dest := []interface{}{
		&record.Barcode,
		&record.Name,
		&record.Brand,
		&energy,
		&protein,
		&carb,
		&fat,
		&saturated,
		&sugars,
		&fiber,
		&salt,
		&sodium,
		&record.ETag,
		&fetchedAt,
	}
	dest = append(dest, extra...)
	if err := scan(dest...); err != nil {
		return nil, err
	}

	if energy.Valid {
		value := int(energy.Int64)
		record.Nutrients.EnergyKcal = &value
	}
	record.Nutrients.ProteinG = floatPtr(protein)
	record.Nutrients.CarbG = floatPtr(carb)
	record.Nutrients.FatG = floatPtr(fat)
	record.Nutrients.SaturatedFatG = floatPtr(saturated)
	record.Nutrients.SugarsG = floatPtr(sugars)
	record.Nutrients.FiberG = floatPtr(fiber)
	record.Nutrients.SaltG = floatPtr(salt)
	record.Nutrients.SodiumG = floatPtr(sodium)
	if fetchedAt.Valid {
		value := time.UnixMilli(fetchedAt.Int64).UTC()
		record.LastFetchedAt = &value
	}
	return &record, nil
}

func floatPtr(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	return &value.Float64
}

func nullInt(value *int) interface{} {
	if value == nil {
		return nil
	}
	return *value
}

func nullFloat(value *float64) interface{} {
	if value == nil {
		return nil
	}
	return *value
}

func nullTime(value *time.Time) interface{} {
	if value == nil {
		return nil
	}
	return value.UnixMilli()
}
