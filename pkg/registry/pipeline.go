package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/resumelab/resume-orchestrator/pkg/core"
	"github.com/resumelab/resume-orchestrator/pkg/security"
)

// inlineURL is the storage reference used when the upload degrades or has
// not finished yet. Record creation can proceed against it and the final
// location is reconciled afterwards.
func inlineURL(resumeID string) string {
	return "inline://resumes/" + resumeID
}

// runPipeline executes the side-effect pipeline for one operation: file
// upload and resume-record creation in parallel, then a reconciling update
// when the upload produced a different final URL than the placeholder used
// at record-creation time. It never panics or returns an error out of its
// goroutine; any failure settles the operation with a structured result.
//
// The pipeline deliberately runs on a background context: cancelling the
// registry entry does not stop work already in flight.
func (r *Registry) runPipeline(op *operation, fileBytes []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.settle(op, core.OperationResult{
				OperationID: op.id,
				Success:     false,
				Error:       fmt.Sprintf("pipeline panic: %v", rec),
			})
		}
	}()

	resumeID := uuid.New().String()
	placeholder := inlineURL(resumeID)

	var upload *core.UploadResult

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		res, err := r.files.Upload(ctx, fileBytes, op.fileName)
		if err != nil {
			// Degrade to the inline reference rather than aborting:
			// the record-creation branch can still succeed.
			r.logger.Warn("file upload failed, falling back to inline storage",
				"operation_id", op.id, "error", err)
			upload = &core.UploadResult{URL: placeholder}
			return nil
		}
		upload = res
		return nil
	})

	g.Go(func() error {
		err := r.resumes.CreateResume(ctx, &core.ResumeRecord{
			ID:         resumeID,
			OwnerID:    op.ownerID,
			FileName:   op.fileName,
			StorageURL: placeholder,
		})
		if err != nil {
			return &core.PipelineError{Step: "create-resume", Err: err}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		r.logger.Error("operation pipeline failed",
			"operation_id", op.id, "error", err)
		r.settle(op, core.OperationResult{
			OperationID: op.id,
			Success:     false,
			Error:       err.Error(),
		})
		return
	}

	// Reconcile when the upload landed somewhere other than the
	// placeholder the record was created with.
	if upload.URL != placeholder {
		if err := r.resumes.UpdateResumeStorage(context.Background(), resumeID, upload.URL, upload.Key); err != nil {
			r.logger.Error("storage reconciliation failed",
				"operation_id", op.id, "resume_id", resumeID, "error", err)
			r.settle(op, core.OperationResult{
				OperationID: op.id,
				ResumeID:    resumeID,
				Success:     false,
				Error:       (&core.PipelineError{Step: "reconcile-storage", Err: err}).Error(),
			})
			return
		}
	}

	r.settle(op, core.OperationResult{
		OperationID: op.id,
		ResumeID:    resumeID,
		UploadURL:   upload.URL,
		FileKey:     upload.Key,
		Success:     true,
	})
}

// settle records the pipeline outcome and wakes every waiter. It runs at
// most once per operation.
func (r *Registry) settle(op *operation, res core.OperationResult) {
	res.Error = security.SanitizeErrorMessage(res.Error)
	res.Timestamp = time.Now()
	op.result = res
	close(op.done)

	if r.bus != nil {
		r.bus.Publish(&core.OperationSettled{
			OperationID: op.id,
			Success:     res.Success,
			Timestamp:   res.Timestamp,
		})
	}
}
