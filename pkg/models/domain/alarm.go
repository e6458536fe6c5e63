package domain

import (
	"fmt"
	"time"

	"github.com/de-tools/cost-atlas/pkg/errkind"
)

type RuleType string

const (
	RuleTypeThreshold  RuleType = "threshold"
	RuleTypeAnomaly    RuleType = "anomaly"
	RuleTypeBudget     RuleType = "budget"
	RuleTypeForecast   RuleType = "forecast"
	RuleTypeEfficiency RuleType = "efficiency"
)

type RuleStatus string

const (
	RuleStatusActive   RuleStatus = "active"
	RuleStatusInactive RuleStatus = "inactive"
	RuleStatusPaused   RuleStatus = "paused"
	RuleStatusError    RuleStatus = "error"
)

type Operator string

const (
	OpGreater      Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpLess         Operator = "lt"
	OpLessEqual    Operator = "lte"
)

func (op Operator) Compare(value, threshold float64) (bool, error) {
	switch op {
	case OpGreater, "":
		return value > threshold, nil
	case OpGreaterEqual:
		return value >= threshold, nil
	case OpLess:
		return value < threshold, nil
	case OpLessEqual:
		return value <= threshold, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type RuleConfig struct {
	Threshold    float64
	Operator     Operator
	WindowDays   int
	Budget       float64
	StdDevs      float64
	TrailingDays int
	TolerancePct float64
	// Severity overrides the severity derived from the breach ratio.
	Severity Severity
}

type AlarmRule struct {
	ID              string
	Name            string
	Type            RuleType
	Scope           Scope
	Config          RuleConfig
	Status          RuleStatus
	StatusReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastEvaluatedAt *time.Time
}

type EventStatus string

const (
	EventStatusNew          EventStatus = "new"
	EventStatusAcknowledged EventStatus = "acknowledged"
	EventStatusResolved     EventStatus = "resolved"
)

var eventOrder = map[EventStatus]int{
	EventStatusNew:          0,
	EventStatusAcknowledged: 1,
	EventStatusResolved:     2,
}

func ParseEventStatus(s string) (EventStatus, bool) {
	st := EventStatus(s)
	_, ok := eventOrder[st]
	return st, ok
}

func (s EventStatus) Unresolved() bool {
	return s == EventStatusNew || s == EventStatusAcknowledged
}

type EventTransition struct {
	From EventStatus
	To   EventStatus
	At   time.Time
	Note string
}

type AlarmEvent struct {
	ID             string
	RuleID         string
	RuleType       RuleType
	TriggeredAt    time.Time
	UpdatedAt      time.Time
	CurrentValue   float64
	ThresholdValue float64
	Severity       Severity
	// WindowKey identifies the evaluation window the event covers.
	WindowKey string
	Status    EventStatus
	History   []EventTransition
}

// Transition moves the event forward in its lifecycle. Moving backwards or
// staying in place is rejected.
func (e *AlarmEvent) Transition(to EventStatus, at time.Time, note string) error {
	next, ok := eventOrder[to]
	if !ok {
		return errkind.New(errkind.InvalidInput, "unknown event status %q", to)
	}
	if next <= eventOrder[e.Status] {
		return errkind.New(errkind.InvalidTransition, "event %s cannot move from %s to %s", e.ID, e.Status, to)
	}

	e.History = append(e.History, EventTransition{From: e.Status, To: to, At: at, Note: note})
	e.Status = to
	e.UpdatedAt = at
	return nil
}

type EventFilter struct {
	RuleID   string
	Statuses []EventStatus
	Page     int
	PageSize int
}

type EventPage struct {
	Events   []AlarmEvent
	Page     int
	PageSize int
	Total    int
}

// Evaluation is the outcome of evaluating one rule once.
type Evaluation struct {
	RuleID         string
	Triggered      bool
	Dormant        bool
	Reason         string
	CurrentValue   float64
	ThresholdValue float64
	Severity       Severity
	WindowKey      string
	EventID        string
	Deduplicated   bool
}
