// Package postgres implements the store interfaces and the quota ledger on
// PostgreSQL through database/sql and the pgx driver. Schema changes live in
// the embedded goose migrations of the migrations subpackage.
package postgres
