//go:build !wasm
// +build !wasm

// Package gorm provides the GORM-based user directory and passkey credential
// repository. It works with any database GORM supports; the command line
// tool uses PostgreSQL in production and SQLite for local runs.
//
// # Database Schema
//
//   - users: accounts with an optional bcrypt password hash and an active flag
//   - passkey_credentials: WebAuthn credentials keyed by base64url credential id
//
// AutoMigrate creates both tables. Deployments that manage their schema with
// SQL migrations use the stores/migrations package instead.
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	store := gormstore.New(db)
//	gate := authgate.New("myapp", nil, store, store)
//	ceremony, _ := passkey.New(cfg, gate.Sessions, store, store)
package gorm
