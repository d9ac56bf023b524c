//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based implementation of the authpwn Store.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.)
// and is suitable for production deployments requiring relational database storage.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - users: User accounts, with a unique exuid
//   - credentials: Typed credentials, with unique unique_key and slot_key columns
//   - tokens: One-time tokens, unique per (purpose, code)
//
// Credential uniqueness is enforced by the database, so concurrent writers
// of the same (kind, name) cannot both succeed.
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	gormstore.AutoMigrate(db)
//	auth := authpwn.NewAuth(gormstore.NewStore(db))
package gorm
