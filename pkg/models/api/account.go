package api

import "time"

type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type Account struct {
	ID                string     `json:"id"`
	Provider          string     `json:"provider"`
	ExternalAccountID string     `json:"external_account_id"`
	DataPrefix        string     `json:"data_prefix,omitempty"`
	Status            string     `json:"status"`
	LastSync          *time.Time `json:"last_sync,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type LinkInitiateRequest struct {
	Provider       string `json:"provider"`
	PayerAccountID string `json:"payer_account_id"`
	DataPrefix     string `json:"data_prefix"`
}

type TrustInstructions struct {
	TrustPrincipal  string   `json:"trust_principal"`
	ExternalID      string   `json:"external_id"`
	RequiredActions []string `json:"required_actions"`
	Steps           []string `json:"steps"`
	PolicyDocument  string   `json:"policy_document,omitempty"`
}

type LinkInitiateResponse struct {
	ConnectionID string            `json:"connection_id"`
	ExternalID   string            `json:"external_id"`
	State        string            `json:"state"`
	ExpiresAt    time.Time         `json:"expires_at"`
	Instructions TrustInstructions `json:"instructions"`
}

// LinkFinalizeRequest carries the customer-created trust reference. For aws
// this is the role ARN; gcp uses key_ref; azure uses tenant/client/key_ref.
type LinkFinalizeRequest struct {
	ConnectionID string `json:"connection_id"`
	RoleARN      string `json:"role_arn"`
	KeyRef       string `json:"key_ref"`
	TenantID     string `json:"tenant_id"`
	ClientID     string `json:"client_id"`
}

type LinkFinalizeResponse struct {
	ConnectionID string `json:"connection_id"`
	State        string `json:"state"`
	AccountID    string `json:"account_id"`
	Status       string `json:"status"`
}

type Link struct {
	ConnectionID   string    `json:"connection_id"`
	Provider       string    `json:"provider"`
	PayerAccountID string    `json:"payer_account_id"`
	State          string    `json:"state"`
	FailureKind    string    `json:"failure_kind,omitempty"`
	FailureMessage string    `json:"failure_message,omitempty"`
	AccountID      string    `json:"account_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type ConnectionTestResponse struct {
	OK      bool   `json:"ok"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}
