// Package task manages the lifecycle of analysis tokens.
//
// A Manager accepts submissions, persists a token record through a
// store.TokenStore and runs one background execution per active token. It
// drives progress updates, applies retry and cancel policy, expires tokens
// lazily on read and sweeps expired records on a schedule. The in-memory
// task table is owned by the Manager instance; the store stays the source of
// truth for token state.
package task
