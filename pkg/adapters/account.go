package adapters

import (
	"github.com/de-tools/cost-atlas/pkg/connector"
	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/api"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
)

// MapErrorToApi exposes the stable kind and message of typed errors. Internal
// failures are reported generically.
func MapErrorToApi(err error) api.Error {
	kind := errkind.KindOf(err)
	if kind.Internal() {
		return api.Error{Kind: string(errkind.Internal), Message: "internal error"}
	}
	return api.Error{Kind: string(kind), Message: errkind.Message(err)}
}

func MapAccountDomainToApi(a domain.ProviderAccount) api.Account {
	return api.Account{
		ID:                a.ID,
		Provider:          string(a.Provider),
		ExternalAccountID: a.ExternalAccountID,
		DataPrefix:        a.DataPrefix,
		Status:            string(a.Status),
		LastSync:          a.LastSync,
		LastError:         a.LastError,
		CreatedAt:         a.CreatedAt,
	}
}

func MapLinkDomainToApi(l domain.Link) api.Link {
	return api.Link{
		ConnectionID:   l.ID,
		Provider:       string(l.Provider),
		PayerAccountID: l.PayerAccountID,
		State:          string(l.State),
		FailureKind:    string(l.FailureKind),
		FailureMessage: l.FailureMessage,
		AccountID:      l.AccountID,
		CreatedAt:      l.CreatedAt,
		ExpiresAt:      l.ExpiresAt,
	}
}

func MapInitiateDomainToApi(l domain.Link, in domain.TrustInstructions) api.LinkInitiateResponse {
	return api.LinkInitiateResponse{
		ConnectionID: l.ID,
		ExternalID:   l.ExternalID,
		State:        string(l.State),
		ExpiresAt:    l.ExpiresAt,
		Instructions: api.TrustInstructions{
			TrustPrincipal:  in.TrustPrincipal,
			ExternalID:      in.ExternalID,
			RequiredActions: in.RequiredActions,
			Steps:           in.Steps,
			PolicyDocument:  in.PolicyDocument,
		},
	}
}

func MapFinalizeDomainToApi(l domain.Link, a domain.ProviderAccount) api.LinkFinalizeResponse {
	return api.LinkFinalizeResponse{
		ConnectionID: l.ID,
		State:        string(l.State),
		AccountID:    a.ID,
		Status:       string(a.Status),
	}
}

// MapFinalizeApiToCredential builds the trust reference from a finalize
// request. The external id is never taken from the caller.
func MapFinalizeApiToCredential(req api.LinkFinalizeRequest) domain.TrustCredential {
	return domain.TrustCredential{
		RoleARN:  req.RoleARN,
		KeyRef:   req.KeyRef,
		TenantID: req.TenantID,
		ClientID: req.ClientID,
	}
}

func MapDiagnosticToApi(ok bool, d connector.Diagnostic) api.ConnectionTestResponse {
	return api.ConnectionTestResponse{OK: ok, Stage: string(d.Stage), Message: d.Message}
}
