// Package db embeds the database schema applied at startup.
package db

import _ "embed"

// Schema holds the idempotent DDL for products, coupons, redemption counters,
// orders and API keys.
//
//go:embed migrations/001_schema.sql
var Schema string
