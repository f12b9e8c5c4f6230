// Package prodcache defines the core types and interfaces of an
// offline-first product cache.
//
// A product catalog is kept in a local store (see the local subpackage for a
// sqlite implementation) and augmented on demand from a remote product
// directory over HTTP (see the remote subpackage), within strict politeness
// limits (see the throttle and coalesce subpackages). The hybrid subpackage
// ties everything together into the cache-aside repository callers use.
//
// This package itself only holds what the subpackages share: the
// ProductRecord data model, the Store interface consumed from the local
// persistent store, the error taxonomy, and env-based configuration.
package prodcache
