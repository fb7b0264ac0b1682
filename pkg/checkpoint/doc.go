// Package checkpoint provides the recovery service over the checkpoint
// store: fail-soft progress saves, session recovery, pause/resume and
// cancellation transitions, and the retention sweep.
package checkpoint
