// Package storage provides GORM-backed persistence for the orchestrator:
// the checkpoint store and the billing store.
package storage
