// Package postgres implements goAccount.IdentityProvider on PostgreSQL
// through pgx, and ships the schema as embedded golang-migrate migrations.
package postgres
