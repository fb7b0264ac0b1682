// Package schedule provides scheduling implementations for recurring
// maintenance jobs, such as the checkpoint cleanup sweep.
//
// This package includes:
//   - Schedule interface for defining when a job runs next
//   - Every() for fixed-interval schedules
//   - Daily() for daily schedules at a specific time
//   - Weekly() for weekly schedules on a specific day and time
//   - Cron() for cron expression-based schedules
//
// Most users should import the root package
// github.com/resumelab/resume-orchestrator which re-exports these functions.
package schedule
