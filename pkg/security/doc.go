// Package security provides validation, sanitization, and limits for the
// orchestrator packages.
package security
