package domain

import (
	"fmt"
	"time"
)

type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderGCP   Provider = "gcp"
	ProviderAzure Provider = "azure"
)

var Providers = []Provider{ProviderAWS, ProviderGCP, ProviderAzure}

func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case ProviderAWS, ProviderGCP, ProviderAzure:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported provider %q", s)
	}
}

type AccountStatus string

const (
	AccountStatusPending AccountStatus = "pending"
	AccountStatusActive  AccountStatus = "active"
	AccountStatusError   AccountStatus = "error"
	AccountStatusSyncing AccountStatus = "syncing"
)

// TrustCredential references, but never contains, the secret used to reach a customer account.
//   - aws:   RoleARN + ExternalID, assumed per call
//   - gcp:   KeyRef is the path of a service-account key file
//   - azure: TenantID + ClientID, KeyRef names the environment variable holding the secret
type TrustCredential struct {
	RoleARN    string
	ExternalID string
	KeyRef     string
	TenantID   string
	ClientID   string
}

type ProviderAccount struct {
	ID                string
	Provider          Provider
	ExternalAccountID string
	Credential        TrustCredential
	// DataPrefix locates exported billing data: s3://bucket/prefix for aws,
	// project.dataset for gcp. Optional for azure.
	DataPrefix string
	Status     AccountStatus
	LastSync   *time.Time
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

func (a ProviderAccount) Deleted() bool {
	return a.DeletedAt != nil
}

// Syncable reports whether ingestion may run against the account. A stale
// syncing status left by an interrupted run does not block the next one.
func (a ProviderAccount) Syncable() bool {
	return !a.Deleted() && (a.Status == AccountStatusActive || a.Status == AccountStatusSyncing)
}
