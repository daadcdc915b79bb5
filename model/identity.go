package model

import "time"

// OAuth providers supported for sign-in.
const (
	ProviderGoogle  = "google"
	ProviderSpotify = "spotify"
)

// OAuthIdentity links a provider account to a local user.
// Managed through GORM; (provider, subject) is unique.
type OAuthIdentity struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"not null;index" json:"userId"`
	Provider  string    `gorm:"size:32;not null;uniqueIndex:uq_provider_subject" json:"provider"`
	Subject   string    `gorm:"size:255;not null;uniqueIndex:uq_provider_subject" json:"subject"`
	Email     string    `gorm:"size:255" json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (OAuthIdentity) TableName() string {
	return "oauth_identities"
}

// ProviderProfile is what a provider tells us about the signed-in account.
type ProviderProfile struct {
	Provider  string
	Subject   string
	Email     string
	Name      string
	AvatarURL string
	// EmailVerified is set only when the provider asserts ownership of Email.
	EmailVerified bool
}
