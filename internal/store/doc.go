// Package store defines the TokenStore contract and the errors every
// implementation reports. The lifecycle manager depends only on this
// package; the postgres, sqlite, redis and memory implementations live under
// internal/platform.
//
// The storetest subpackage holds the behavioural suite every TokenStore
// implementation runs.
package store
