// Package repository is the Postgres implementation of
// tenantauth.CredentialStore.
package repository
