// Package core provides the domain models and interfaces shared by the
// checkpoint store, the debounced job queue, and the operation registry.
//
// Nothing in this package performs I/O. The persistence and collaborator
// interfaces defined here are implemented in pkg/storage or supplied by the
// embedding application.
package core
