package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumelab/resume-orchestrator/pkg/core"
)

// TestAnalysisLifecycle walks one resume through the whole subsystem: the
// upload pipeline, streamed auto-saves, completion, and the billed result.
func TestAnalysisLifecycle(t *testing.T) {
	orch, files, db := newTestOrchestrator(t)
	ctx := context.Background()
	seedAccount(t, orch, "owner-1", 3)

	// Upload kicks off the side-effect pipeline.
	opID, err := orch.StartOperation(ctx, "owner-1", []byte("%PDF-1.7 ..."), "resume.pdf")
	require.NoError(t, err)

	res, err := orch.GetOperationResult(ctx, opID)
	require.NoError(t, err)
	require.True(t, res.Success)
	resumeID := res.ResumeID

	// The file really landed and the record points at it.
	files.mu.Lock()
	_, stored := files.files["resumes/resume.pdf"]
	files.mu.Unlock()
	assert.True(t, stored)
	rec, err := orch.Billing.GetResume(ctx, resumeID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, res.UploadURL, rec.StorageURL)

	// The stream saves progress as it goes; saves are debounced per workflow.
	orch.SaveAnalysisProgress("owner-1", resumeID, 0.3, []byte(`{"sections":1}`))
	orch.SaveAnalysisProgress("owner-1", resumeID, 0.7, []byte(`{"sections":3}`))
	orch.Queue.ForceDrain(ctx)

	state, err := orch.RecoverState(ctx, KindAnalysis, "owner-1", resumeID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.InDelta(t, 0.7, state.Checkpoint.Progress, 1e-9)
	require.NotNil(t, state.Target, "recovery resolves the resume as target metadata")
	assert.Equal(t, "resume.pdf", state.Target.Name)

	// Stream finishes: completion write plus the billed result.
	orch.MarkAnalysisCompleted("owner-1", resumeID, []byte(`{"score":87}`))
	assert.Eventually(t, func() bool {
		s, err := orch.RecoverState(ctx, KindAnalysis, "owner-1", resumeID)
		return err == nil && s != nil && s.Checkpoint.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	analysis, err := orch.SaveOperationResult(ctx, opID, []byte(`{"score":87}`), "resume.pdf", 5300)
	require.NoError(t, err)
	require.NotNil(t, analysis)
	assert.Equal(t, resumeID, analysis.ResumeID)

	// Billing happened as one unit: balance down by one, transaction linked
	// to the analysis record.
	balance, err := orch.Billing.Credits(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 2, balance)

	var txns []core.CreditTransaction
	require.NoError(t, db.Find(&txns, "owner_id = ?", "owner-1").Error)
	require.Len(t, txns, 1)
	assert.Equal(t, -1, txns[0].Amount)
	assert.Equal(t, analysis.ID, txns[0].AnalysisID)

	// A retried completion does not double-charge: same analysis back,
	// balance and row counts unchanged.
	again, err := orch.SaveOperationResult(ctx, opID, []byte(`{"score":87}`), "resume.pdf", 5300)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, analysis.ID, again.ID)

	balance, err = orch.Billing.Credits(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 2, balance)

	var analyses int64
	require.NoError(t, db.Model(&core.AnalysisRecord{}).Count(&analyses).Error)
	assert.Equal(t, int64(1), analyses)
}

// TestInsufficientCreditsAtCompletion covers the race where the balance
// drains between the synchronous pre-check and the completion write: the
// whole billing unit rolls back and nothing is partially recorded.
func TestInsufficientCreditsAtCompletion(t *testing.T) {
	orch, _, db := newTestOrchestrator(t)
	ctx := context.Background()
	seedAccount(t, orch, "owner-1", 1)

	opID, err := orch.StartOperation(ctx, "owner-1", []byte("pdf"), "resume.pdf")
	require.NoError(t, err)
	_, err = orch.GetOperationResult(ctx, opID)
	require.NoError(t, err)

	// The last credit disappears while the pipeline runs.
	require.NoError(t, db.Model(&Account{}).Where("id = ?", "owner-1").Update("credits", 0).Error)

	_, err = orch.SaveOperationResult(ctx, opID, []byte("{}"), "resume.pdf", 100)
	require.ErrorIs(t, err, ErrInsufficientCredits)

	var analyses, txns int64
	require.NoError(t, db.Model(&core.AnalysisRecord{}).Count(&analyses).Error)
	require.NoError(t, db.Model(&core.CreditTransaction{}).Count(&txns).Error)
	assert.Zero(t, analyses)
	assert.Zero(t, txns)
}

// TestDegradedUploadStillProducesAnalyzableResume exercises the fallback
// path: storage is down, the record is created against an inline reference,
// and the rest of the flow proceeds normally.
func TestDegradedUploadStillProducesAnalyzableResume(t *testing.T) {
	orch, files, _ := newTestOrchestrator(t)
	ctx := context.Background()
	seedAccount(t, orch, "owner-1", 3)
	files.fail = true

	opID, err := orch.StartOperation(ctx, "owner-1", []byte("pdf"), "resume.pdf")
	require.NoError(t, err)

	res, err := orch.GetOperationResult(ctx, opID)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.UploadURL, "inline://"))

	rec, err := orch.Billing.GetResume(ctx, res.ResumeID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, res.UploadURL, rec.StorageURL)

	analysis, err := orch.SaveOperationResult(ctx, opID, []byte(`{"score":71}`), "resume.pdf", 900)
	require.NoError(t, err)
	require.NotNil(t, analysis)
}

// TestAbandonedSessionRecovery: a stream that stops mid-way leaves a
// checkpoint the owner can list and resume later.
func TestAbandonedSessionRecovery(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	orch.SaveImprovementProgress("owner-1", "resume-1", 0.55, []byte(`{"draft":"..."}`),
		"Product Manager", "healthcare", "")
	orch.Queue.ForceDrain(ctx)

	// Connection drops here. Later, the owner comes back.
	recs, err := orch.ListRecoverable(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, KindImprovement, recs[0].Kind)

	state, err := orch.RecoverState(ctx, KindImprovement, "owner-1", "resume-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.InDelta(t, 0.55, state.Checkpoint.Progress, 1e-9)
	assert.Equal(t, "Product Manager", state.Checkpoint.TargetRole)

	// Pausing keeps it recoverable; completing removes it from the list.
	require.NoError(t, orch.Checkpoints.Pause(ctx, KindImprovement, "owner-1", "resume-1"))
	recs, err = orch.ListRecoverable(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, StatusPaused, recs[0].Status)

	require.NoError(t, orch.Checkpoints.Resume(ctx, KindImprovement, "owner-1", "resume-1"))
	orch.MarkImprovementCompleted("owner-1", "resume-1", []byte(`{"final":"..."}`))
	assert.Eventually(t, func() bool {
		recs, err := orch.ListRecoverable(ctx, "owner-1")
		return err == nil && len(recs) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestProgressNeverRegresses: a late out-of-order save cannot move the
// checkpoint backwards, end to end through the queue.
func TestProgressNeverRegresses(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	orch.SaveAnalysisProgress("owner-1", "resume-1", 0.8, []byte("late-stage"))
	orch.Queue.ForceDrain(ctx)

	orch.SaveAnalysisProgress("owner-1", "resume-1", 0.2, []byte("stale"))
	orch.Queue.ForceDrain(ctx)

	state, err := orch.RecoverState(ctx, KindAnalysis, "owner-1", "resume-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.InDelta(t, 0.8, state.Checkpoint.Progress, 1e-9)
	assert.Equal(t, []byte("stale"), state.Checkpoint.Payload, "payload still replaced wholesale")
}
