// Package hybrid implements the cache-aside product repository.
//
// Lookups consult the local store first and fall back to the remote
// directory through the throttle, upserting fresh results locally so the
// next lookup is served offline. Local text search never touches the
// network; remote search is an explicit, best-effort enrichment step whose
// results are re-ranked through the same local algorithm.
//
// Remote infrastructure failures never escalate out of a lookup: a lookup
// that fails remotely is indistinguishable from a true absence and the
// cause is only reported through the configured logger. Local store
// failures always propagate, since they mean the cache itself is unusable.
package hybrid

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fishy/errbatch"
	"github.com/fishy/rowlock"
	"golang.org/x/sync/errgroup"

	"github.com/foodscan/prodcache"
	"github.com/foodscan/prodcache/coalesce"
	"github.com/foodscan/prodcache/remote"
	"github.com/foodscan/prodcache/throttle"
)

// Cache is the caller-facing product repository.
//
// A Cache is safe for concurrent use; any number of calls may be in
// flight at once. It holds no per-call state across calls.
type Cache struct {
	store    prodcache.Store
	client   *remote.Client
	throttle *throttle.Throttle
	warm     *coalesce.Coalescer
	locks    *rowlock.RowLock
	opts     Options
}

// Open creates a hybrid product cache on top of a local store and a
// remote directory client.
//
// There's no need to close the cache itself; close the store when done.
func Open(store prodcache.Store, client *remote.Client, opts Options) *Cache {
	return &Cache{
		store:    store,
		client:   client,
		throttle: throttle.New(opts.GetThrottleOptions()),
		warm:     coalesce.New(opts.GetWarmConcurrency()),
		locks:    rowlock.NewRowLock(rowlock.MutexNewLocker),
		opts:     opts,
	}
}

// storeError marks a local store failure crossing the coalesced fetch
// boundary, so it's never confused with a remote failure and swallowed.
type storeError struct {
	err error
}

func (e *storeError) Error() string {
	return e.err.Error()
}

func (e *storeError) Unwrap() error {
	return e.err
}

// GetByBarcode returns the product with the given barcode.
//
// The local store is consulted first; this is the common, offline path.
// On a local miss the remote directory is consulted through the throttle's
// "productLookup" channel, and a successful result is upserted locally
// before being returned. Concurrent misses for the same barcode share one
// remote fetch.
//
// On any remote failure the lookup degrades to NoSuchProductError. A local
// store failure propagates unmodified.
func (c *Cache) GetByBarcode(
	ctx context.Context,
	barcode string,
) (*prodcache.ProductRecord, error) {
	select {
	default:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	record, err := c.store.GetProduct(ctx, barcode)
	if err == nil {
		return record, nil
	}
	if !prodcache.IsNoSuchProductError(err) {
		return nil, err
	}

	if err := c.coalescedFetch(ctx, barcode, ""); err != nil {
		var se *storeError
		if errors.As(err, &se) {
			return nil, se.err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !prodcache.IsNoSuchProductError(err) {
			c.logf("lookup %q degraded to not found: %v", barcode, err)
		}
		return nil, &prodcache.NoSuchProductError{Barcode: barcode}
	}

	return c.store.GetProduct(ctx, barcode)
}

// SearchLocal returns up to limit locally cached products matching query,
// best match first.
//
// It never triggers network activity, so typing stays instantaneous and
// offline-safe. An empty result just means nothing matched locally.
func (c *Cache) SearchLocal(
	ctx context.Context,
	query string,
	limit int,
) ([]*prodcache.ProductRecord, error) {
	return c.store.SearchProducts(ctx, query, limit)
}

// SearchRemoteAndCache searches the remote directory, caches every result
// with a non-empty code in one transaction, then returns what SearchLocal
// returns for the same query, so local and remote search never disagree on
// ordering for the same data.
//
// A remote failure aborts the enrichment and falls back to local-only
// results; it's logged, not returned. A local store failure propagates.
func (c *Cache) SearchRemoteAndCache(
	ctx context.Context,
	query string,
	limit int,
) ([]*prodcache.ProductRecord, error) {
	select {
	default:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var products []remote.Product
	err := c.throttle.Do(ctx, throttle.ChannelSearch, func(ctx context.Context) error {
		var err error
		products, err = c.client.Search(ctx, query, c.opts.GetSearchPageSize(), 1)
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		c.logf("remote search %q degraded to local-only: %v", query, err)
		return c.SearchLocal(ctx, query, limit)
	}

	if len(products) > 0 {
		now := time.Now().UTC()
		// One transaction so a partial batch never survives a crash
		// mid-loop.
		if err := c.store.InTransaction(ctx, func(tx prodcache.Store) error {
			for i := range products {
				product := &products[i]
				if product.Code == "" {
					continue
				}
				record := recordFromProduct(product, "")
				record.LastFetchedAt = &now
				if err := tx.UpsertProduct(ctx, record); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	return c.SearchLocal(ctx, query, limit)
}

// Refresh re-validates the locally cached record against the remote
// directory using its stored ETag.
//
// A confirmed-unchanged answer only touches the record's fetch timestamp;
// a fresh body replaces the record's remote fields. A missing local record
// turns Refresh into a plain fetch. Remote failures are logged and
// swallowed; store failures propagate.
func (c *Cache) Refresh(ctx context.Context, barcode string) error {
	select {
	default:
	case <-ctx.Done():
		return ctx.Err()
	}

	etag := ""
	record, err := c.store.GetProduct(ctx, barcode)
	switch {
	case err == nil:
		etag = record.ETag
	case !prodcache.IsNoSuchProductError(err):
		return err
	}

	if err := c.coalescedFetch(ctx, barcode, etag); err != nil {
		var se *storeError
		if errors.As(err, &se) {
			return se.err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		c.logf("refresh %q failed: %v", barcode, err)
	}
	return nil
}

// Prefetch warms the cache for the given barcodes in the background,
// bounded by the warm concurrency cap. Barcodes already cached are
// skipped; concurrent prefetches of the same barcode share one fetch.
//
// Remote failures are logged and skipped; the returned error combines the
// local store failures, if any.
func (c *Cache) Prefetch(ctx context.Context, barcodes []string) error {
	var mu sync.Mutex
	batch := new(errbatch.ErrBatch)
	add := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		batch.Add(err)
	}

	var group errgroup.Group
	group.SetLimit(c.opts.GetWarmConcurrency())
	for _, barcode := range barcodes {
		barcode := barcode
		group.Go(func() error {
			if _, err := c.store.GetProduct(ctx, barcode); err == nil {
				return nil
			} else if !prodcache.IsNoSuchProductError(err) {
				add(err)
				return nil
			}
			if err := c.coalescedFetch(ctx, barcode, ""); err != nil {
				var se *storeError
				if errors.As(err, &se) {
					add(se.err)
					return nil
				}
				if !prodcache.IsNoSuchProductError(err) {
					c.logf("prefetch %q skipped: %v", barcode, err)
				}
			}
			return nil
		})
	}
	// Errors are collected in the batch, Wait only joins.
	_ = group.Wait()
	return batch.Compile()
}

// coalescedFetch fetches one barcode from the remote directory and stores
// the outcome, deduplicating concurrent fetches for the same barcode.
//
// The returned error is a *storeError for local store failures, a
// NoSuchProductError when the upstream has no such product, or the remote
// failure itself.
func (c *Cache) coalescedFetch(ctx context.Context, barcode, etag string) error {
	_, err := c.warm.Do(ctx, "product:"+barcode, func(ctx context.Context) (interface{}, error) {
		return nil, c.fetchAndStore(ctx, barcode, etag)
	})
	return err
}

func (c *Cache) fetchAndStore(ctx context.Context, barcode, etag string) error {
	var result *remote.FetchResult
	err := c.throttle.Do(ctx, throttle.ChannelProductLookup, func(ctx context.Context) error {
		var err error
		result, err = c.client.GetByCode(ctx, barcode, etag)
		return err
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	if result.NotModified {
		// Confirmed unchanged: only the fetch timestamp moves.
		touch := &prodcache.ProductRecord{
			Barcode:       barcode,
			LastFetchedAt: &now,
		}
		if err := c.upsertLocked(ctx, touch); err != nil {
			return &storeError{err: err}
		}
		return nil
	}

	if result.Product == nil {
		return &prodcache.NoSuchProductError{Barcode: barcode}
	}

	record := recordFromProduct(result.Product, result.ETag)
	if record.Barcode == "" {
		record.Barcode = barcode
	}
	record.LastFetchedAt = &now
	if err := c.upsertLocked(ctx, record); err != nil {
		return &storeError{err: err}
	}
	return nil
}

// upsertLocked serializes write-backs per barcode, so overlapping fetch
// and refresh paths for the same row apply one at a time.
func (c *Cache) upsertLocked(ctx context.Context, record *prodcache.ProductRecord) error {
	c.locks.Lock(record.Barcode)
	defer c.locks.Unlock(record.Barcode)
	return c.store.UpsertProduct(ctx, record)
}

func recordFromProduct(product *remote.Product, etag string) *prodcache.ProductRecord {
	name := product.Name
	if name == "" {
		// The display name falls back to the barcode when the remote
		// source has none.
		name = product.Code
	}
	return &prodcache.ProductRecord{
		Barcode:   product.Code,
		Name:      name,
		Brand:     product.Brand,
		Nutrients: product.Nutrients,
		ETag:      etag,
	}
}

func (c *Cache) logf(format string, args ...interface{}) {
	if logger := c.opts.GetLogger(); logger != nil {
		logger.Printf(format, args...)
	}
}
