package connector

import (
	"context"
	"time"

	"github.com/de-tools/cost-atlas/pkg/models/domain"
)

// Stage names the step of a connection test that produced a diagnostic.
type Stage string

const (
	StageAssumeRole      Stage = "assume_role"
	StageCapabilityProbe Stage = "capability_probe"
	StageOK              Stage = "ok"
)

type Diagnostic struct {
	Stage   Stage
	Message string
}

func OK(msg string) Diagnostic {
	return Diagnostic{Stage: StageOK, Message: msg}
}

// Connector pulls billing data from one cloud provider. Implementations open
// a fresh provider session per call and never cache customer credentials.
type Connector interface {
	// FetchCostAndUsage returns provider-native line items for [start, end).
	FetchCostAndUsage(ctx context.Context, account domain.ProviderAccount, start, end time.Time) ([]domain.RawLineItem, error)
	// TestConnection authenticates with the account credential and probes
	// read access to billing data.
	TestConnection(ctx context.Context, account domain.ProviderAccount) (bool, Diagnostic)
}
