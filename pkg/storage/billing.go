package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/resumelab/resume-orchestrator/pkg/core"
	"github.com/resumelab/resume-orchestrator/pkg/security"
)

// GormBillingStore implements the account, resume, and billing collaborators
// on GORM. It also resolves checkpoint targets against the resumes table.
type GormBillingStore struct {
	db *gorm.DB
}

// NewGormBillingStore creates a GORM-backed billing store.
func NewGormBillingStore(db *gorm.DB) *GormBillingStore {
	return &GormBillingStore{db: db}
}

// Migrate creates the account, resume, analysis, and transaction tables.
func (s *GormBillingStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.Account{},
		&core.ResumeRecord{},
		&core.AnalysisRecord{},
		&core.CreditTransaction{},
	)
}

// CreateAccount creates an owner account with an initial credit balance.
func (s *GormBillingStore) CreateAccount(ctx context.Context, acct *core.Account) error {
	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(acct).Error
}

// Credits returns the owner's remaining balance.
func (s *GormBillingStore) Credits(ctx context.Context, ownerID string) (int, error) {
	var acct core.Account
	err := s.db.WithContext(ctx).First(&acct, "id = ?", ownerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, core.ErrOwnerNotFound
	}
	if err != nil {
		return 0, err
	}
	return acct.Credits, nil
}

// AddCredits grants credits to an owner and records the transaction.
func (s *GormBillingStore) AddCredits(ctx context.Context, ownerID string, amount int, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&core.Account{}).
			Where("id = ?", ownerID).
			Update("credits", gorm.Expr("credits + ?", amount))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrOwnerNotFound
		}
		return tx.Create(&core.CreditTransaction{
			ID:      uuid.New().String(),
			OwnerID: ownerID,
			Amount:  amount,
			Reason:  reason,
		}).Error
	})
}

// CreateResume creates a resume record.
func (s *GormBillingStore) CreateResume(ctx context.Context, rec *core.ResumeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.FileName = security.SanitizeFileName(rec.FileName)
	return s.db.WithContext(ctx).Create(rec).Error
}

// UpdateResumeStorage reconciles a resume record with the storage location
// the upload finally produced.
func (s *GormBillingStore) UpdateResumeStorage(ctx context.Context, resumeID, storageURL, fileKey string) error {
	return s.db.WithContext(ctx).
		Model(&core.ResumeRecord{}).
		Where("id = ?", resumeID).
		Updates(map[string]any{
			"storage_url": storageURL,
			"file_key":    fileKey,
		}).Error
}

// GetResume returns a resume record by id, or nil when absent.
func (s *GormBillingStore) GetResume(ctx context.Context, resumeID string) (*core.ResumeRecord, error) {
	var rec core.ResumeRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", resumeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ResolveTarget returns identifying metadata for a checkpoint target. Both
// checkpoint kinds target resume records.
func (s *GormBillingStore) ResolveTarget(ctx context.Context, kind core.CheckpointKind, targetID string) (*core.TargetInfo, error) {
	rec, err := s.GetResume(ctx, targetID)
	if err != nil || rec == nil {
		return nil, err
	}
	return &core.TargetInfo{
		TargetID:  rec.ID,
		Name:      rec.FileName,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// RecordAnalysis performs the billing-sensitive completion write as one
// transaction: create the analysis record, create the credit transaction
// linked to it, and decrement the owner's balance. A balance that would go
// negative aborts the whole unit with ErrInsufficientCredits.
func (s *GormBillingStore) RecordAnalysis(ctx context.Context, req core.BillingRequest) (*core.AnalysisRecord, error) {
	analysis := &core.AnalysisRecord{
		ID:           uuid.New().String(),
		ResumeID:     req.ResumeID,
		OwnerID:      req.OwnerID,
		FileName:     security.SanitizeFileName(req.FileName),
		Payload:      req.Payload,
		ProcessingMs: req.ProcessingMs,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(analysis).Error; err != nil {
			return err
		}

		if err := tx.Create(&core.CreditTransaction{
			ID:         uuid.New().String(),
			OwnerID:    req.OwnerID,
			AnalysisID: analysis.ID,
			Amount:     -core.AnalysisCreditCost,
			Reason:     "resume-analysis",
		}).Error; err != nil {
			return err
		}

		result := tx.Model(&core.Account{}).
			Where("id = ? AND credits >= ?", req.OwnerID, core.AnalysisCreditCost).
			Update("credits", gorm.Expr("credits - ?", core.AnalysisCreditCost))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrInsufficientCredits
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return analysis, nil
}
