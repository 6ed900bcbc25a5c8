package models

import (
	"fmt"
	"strings"
	"time"
)

// Provider names an external calendar backend.
type Provider string

const (
	ProviderGoogle  Provider = "google"
	ProviderOutlook Provider = "outlook"
	ProviderApple   Provider = "apple"
	ProviderICal    Provider = "ical"
	ProviderOther   Provider = "other"
)

// ParseProvider converts a user-supplied name into a Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProviderGoogle, ProviderOutlook, ProviderApple, ProviderICal, ProviderOther:
		return p, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// UsesOAuth reports whether credentials for p come from an OAuth consent flow.
func (p Provider) UsesOAuth() bool {
	return p == ProviderGoogle || p == ProviderOutlook
}

// MaxTitleLength is the longest title the provider accepts, or 0 if unbounded.
func (p Provider) MaxTitleLength() int {
	switch p {
	case ProviderGoogle:
		return 1024
	case ProviderOutlook:
		return 255
	}
	return 0
}

// SyncDirection declares which way an integration moves data.
type SyncDirection string

const (
	DirectionImport        SyncDirection = "import"
	DirectionExport        SyncDirection = "export"
	DirectionBidirectional SyncDirection = "bidirectional"
)

func ParseSyncDirection(s string) (SyncDirection, error) {
	d := SyncDirection(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DirectionImport, DirectionExport, DirectionBidirectional:
		return d, nil
	}
	return "", fmt.Errorf("unknown sync direction %q", s)
}

// Imports reports whether remote changes are pulled in.
func (d SyncDirection) Imports() bool {
	return d == DirectionImport || d == DirectionBidirectional
}

// Exports reports whether local changes are pushed out.
func (d SyncDirection) Exports() bool {
	return d == DirectionExport || d == DirectionBidirectional
}

// CalendarIntegration is one configured link to a provider account.
type CalendarIntegration struct {
	ID            string        `db:"id" json:"id"`
	Provider      Provider      `db:"provider" json:"provider"`
	Name          string        `db:"name" json:"name"`
	Enabled       bool          `db:"enabled" json:"enabled"`
	SyncDirection SyncDirection `db:"sync_direction" json:"sync_direction"`
	SyncStatus    SyncStatus    `db:"sync_status" json:"sync_status"`
	LastSync      *time.Time    `db:"last_sync" json:"last_sync,omitempty"`
	SyncToken     string        `db:"sync_token" json:"-"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}
