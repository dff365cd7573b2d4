// Package db embeds the database schema.
package db

import _ "embed"

// Schema holds the DDL for the promotions, promotion_usages, promotion_codes,
// and api_keys tables. Statements are idempotent; they run on every startup.
//
//go:embed migrations/001_schema.sql
var Schema string
