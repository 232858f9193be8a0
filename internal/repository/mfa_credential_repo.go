package repository

import (
	"context"
	"errors"

	"identra/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MFACredentialRepository interface {
	FindByUserID(ctx context.Context, userID uuid.UUID) (*entity.MFACredential, error)
	Upsert(ctx context.Context, credential *entity.MFACredential) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

type mfaCredentialRepository struct {
	db *gorm.DB
}

func NewMFACredentialRepository(db *gorm.DB) MFACredentialRepository {
	return &mfaCredentialRepository{db: db}
}

func (r *mfaCredentialRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*entity.MFACredential, error) {
	var credential entity.MFACredential
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&credential).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &credential, err
}

// Upsert replaces any previous credential for the user; re-running setup
// yields a fresh unconfirmed secret rather than an in-place rotation.
func (r *mfaCredentialRepository) Upsert(ctx context.Context, credential *entity.MFACredential) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"secret_encrypted", "method", "email", "confirmed_at"}),
		}).
		Create(credential).Error
}

func (r *mfaCredentialRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&entity.MFACredential{}).
		Error
}
