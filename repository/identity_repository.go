package repository

import (
	"errors"
	"fmt"

	"musaic/model"

	"gorm.io/gorm"
)

// IdentityRepository maps provider accounts to local users.
type IdentityRepository interface {
	FindByProviderSubject(provider, subject string) (*model.OAuthIdentity, error)
	Link(identity *model.OAuthIdentity) error
}

type gormIdentityRepository struct {
	db *gorm.DB
}

// NewGormIdentityRepository creates an identity repository backed by GORM.
func NewGormIdentityRepository(db *gorm.DB) IdentityRepository {
	return &gormIdentityRepository{db: db}
}

// FindByProviderSubject returns nil, nil when the account was never linked.
func (r *gormIdentityRepository) FindByProviderSubject(provider, subject string) (*model.OAuthIdentity, error) {
	var identity model.OAuthIdentity
	err := r.db.Where("provider = ? AND subject = ?", provider, subject).First(&identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find identity %s/%s: %w", provider, subject, err)
	}
	return &identity, nil
}

// Link stores the identity, or refreshes the email of an existing link.
func (r *gormIdentityRepository) Link(identity *model.OAuthIdentity) error {
	existing, err := r.FindByProviderSubject(identity.Provider, identity.Subject)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.UserID != identity.UserID {
			return fmt.Errorf("identity %s/%s already linked to user %d", identity.Provider, identity.Subject, existing.UserID)
		}
		identity.ID = existing.ID
		if err := r.db.Model(existing).Update("email", identity.Email).Error; err != nil {
			return fmt.Errorf("failed to update identity: %w", err)
		}
		return nil
	}

	if err := r.db.Create(identity).Error; err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}
