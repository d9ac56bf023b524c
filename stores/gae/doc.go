//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of the authpwn
// Store. It is designed for deployment on Google Cloud Platform and supports
// multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - User: User accounts, listing their credential IDs
//   - ExUID: External user ID claims
//   - Credential: Typed credentials
//   - CredentialUniqueKey, CredentialSlotKey: Uniqueness claims for credentials
//   - CredentialName: (kind, name) lookup index
//   - Token: One-time tokens keyed by purpose and code
//
// Uniqueness is enforced by claiming the index entity inside the same
// transaction that writes the credential, so Datastore's optimistic
// concurrency rejects one of two conflicting writers.
//
// # Namespacing
//
// Pass a namespace when creating the store to isolate data between tenants:
//
//	store := gae.NewStore(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	auth := authpwn.NewAuth(gae.NewStore(client, ""))
package gae
