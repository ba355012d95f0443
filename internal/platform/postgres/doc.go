// Package postgres provides the PostgreSQL implementation of store.TokenStore.
// It handles query execution, schema migrations and the mapping of driver
// errors onto the store sentinel errors. Connections go through the pgx
// database/sql driver registered as "pgx".
package postgres
