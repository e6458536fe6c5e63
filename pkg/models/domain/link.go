package domain

import (
	"time"

	"github.com/de-tools/cost-atlas/pkg/errkind"
)

type LinkState string

const (
	LinkStateInitiated     LinkState = "initiated"
	LinkStateAwaitingTrust LinkState = "awaiting_trust"
	LinkStateVerifying     LinkState = "verifying"
	LinkStateLinked        LinkState = "linked"
	LinkStateFailed        LinkState = "failed"
)

var linkTransitions = map[LinkState][]LinkState{
	LinkStateInitiated:     {LinkStateAwaitingTrust, LinkStateFailed},
	LinkStateAwaitingTrust: {LinkStateVerifying, LinkStateFailed},
	LinkStateVerifying:     {LinkStateLinked, LinkStateFailed},
}

func (s LinkState) Terminal() bool {
	return s == LinkStateLinked || s == LinkStateFailed
}

// Pending reports whether the link still waits on the customer or on verification.
func (s LinkState) Pending() bool {
	return s == LinkStateInitiated || s == LinkStateAwaitingTrust || s == LinkStateVerifying
}

type LinkTransition struct {
	From   LinkState
	To     LinkState
	At     time.Time
	Reason string
}

// Link is one trust handshake attempt. The external id is bound to it and is
// never reused by another link.
type Link struct {
	ID             string
	Provider       Provider
	PayerAccountID string
	DataPrefix     string
	ExternalID     string
	Credential     TrustCredential
	State          LinkState
	FailureKind    errkind.Kind
	FailureMessage string
	AccountID      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
	History        []LinkTransition
}

func (l *Link) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

func (l *Link) Transition(to LinkState, at time.Time, reason string) error {
	allowed := false
	for _, s := range linkTransitions[l.State] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return errkind.New(errkind.InvalidTransition, "link %s cannot move from %s to %s", l.ID, l.State, to)
	}

	l.History = append(l.History, LinkTransition{From: l.State, To: to, At: at, Reason: reason})
	l.State = to
	l.UpdatedAt = at
	return nil
}

// Fail moves the link to failed and records why.
func (l *Link) Fail(kind errkind.Kind, msg string, at time.Time) error {
	if err := l.Transition(LinkStateFailed, at, msg); err != nil {
		return err
	}
	l.FailureKind = kind
	l.FailureMessage = msg
	return nil
}

// TrustInstructions tell the customer how to grant the platform read access.
type TrustInstructions struct {
	TrustPrincipal  string
	ExternalID      string
	RequiredActions []string
	Steps           []string
	PolicyDocument  string
}
