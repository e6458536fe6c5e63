package api

import "time"

type Scope struct {
	AccountIDs []string `json:"account_ids,omitempty"`
	Services   []string `json:"services,omitempty"`
	Regions    []string `json:"regions,omitempty"`
	Providers  []string `json:"providers,omitempty"`
}

type RuleConfig struct {
	Threshold    float64 `json:"threshold,omitempty"`
	Operator     string  `json:"operator,omitempty"`
	WindowDays   int     `json:"window_days,omitempty"`
	Budget       float64 `json:"budget,omitempty"`
	StdDevs      float64 `json:"std_devs,omitempty"`
	TrailingDays int     `json:"trailing_days,omitempty"`
	TolerancePct float64 `json:"tolerance_pct,omitempty"`
	Severity     string  `json:"severity,omitempty"`
}

type AlarmRule struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Type            string     `json:"type"`
	Scope           Scope      `json:"scope"`
	Config          RuleConfig `json:"config"`
	Status          string     `json:"status"`
	StatusReason    string     `json:"status_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty"`
}

type AlarmRuleRequest struct {
	Name   string     `json:"name"`
	Type   string     `json:"type"`
	Scope  Scope      `json:"scope"`
	Config RuleConfig `json:"config"`
	Status string     `json:"status"`
}

type AlarmTestResponse struct {
	RuleID         string  `json:"rule_id"`
	WouldTrigger   bool    `json:"would_trigger"`
	Dormant        bool    `json:"dormant"`
	Reason         string  `json:"reason,omitempty"`
	CurrentValue   float64 `json:"current_value"`
	ThresholdValue float64 `json:"threshold_value"`
	Severity       string  `json:"severity,omitempty"`
	Window         string  `json:"window,omitempty"`
}

type EventTransition struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

type AlarmEvent struct {
	ID             string            `json:"id"`
	RuleID         string            `json:"alarm_rule_id"`
	RuleType       string            `json:"rule_type"`
	TriggeredAt    time.Time         `json:"triggered_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CurrentValue   float64           `json:"current_value"`
	ThresholdValue float64           `json:"threshold_value"`
	Severity       string            `json:"severity"`
	Window         string            `json:"window"`
	Status         string            `json:"status"`
	History        []EventTransition `json:"history"`
}

type EventPage struct {
	Events   []AlarmEvent `json:"events"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Total    int          `json:"total"`
}

type EventStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}
