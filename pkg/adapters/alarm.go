package adapters

import (
	"github.com/de-tools/cost-atlas/pkg/models/api"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
)

func MapScopeApiToDomain(s api.Scope) domain.Scope {
	return domain.Scope{
		AccountIDs: s.AccountIDs,
		Services:   s.Services,
		Regions:    s.Regions,
		Providers:  s.Providers,
	}
}

func MapScopeDomainToApi(s domain.Scope) api.Scope {
	return api.Scope{
		AccountIDs: s.AccountIDs,
		Services:   s.Services,
		Regions:    s.Regions,
		Providers:  s.Providers,
	}
}

func MapRuleRequestApiToDomain(req api.AlarmRuleRequest) domain.AlarmRule {
	return domain.AlarmRule{
		Name:  req.Name,
		Type:  domain.RuleType(req.Type),
		Scope: MapScopeApiToDomain(req.Scope),
		Config: domain.RuleConfig{
			Threshold:    req.Config.Threshold,
			Operator:     domain.Operator(req.Config.Operator),
			WindowDays:   req.Config.WindowDays,
			Budget:       req.Config.Budget,
			StdDevs:      req.Config.StdDevs,
			TrailingDays: req.Config.TrailingDays,
			TolerancePct: req.Config.TolerancePct,
			Severity:     domain.Severity(req.Config.Severity),
		},
		Status: domain.RuleStatus(req.Status),
	}
}

func MapRuleDomainToApi(r domain.AlarmRule) api.AlarmRule {
	return api.AlarmRule{
		ID:    r.ID,
		Name:  r.Name,
		Type:  string(r.Type),
		Scope: MapScopeDomainToApi(r.Scope),
		Config: api.RuleConfig{
			Threshold:    r.Config.Threshold,
			Operator:     string(r.Config.Operator),
			WindowDays:   r.Config.WindowDays,
			Budget:       r.Config.Budget,
			StdDevs:      r.Config.StdDevs,
			TrailingDays: r.Config.TrailingDays,
			TolerancePct: r.Config.TolerancePct,
			Severity:     string(r.Config.Severity),
		},
		Status:          string(r.Status),
		StatusReason:    r.StatusReason,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		LastEvaluatedAt: r.LastEvaluatedAt,
	}
}

func MapEvaluationDomainToApi(e domain.Evaluation) api.AlarmTestResponse {
	return api.AlarmTestResponse{
		RuleID:         e.RuleID,
		WouldTrigger:   e.Triggered,
		Dormant:        e.Dormant,
		Reason:         e.Reason,
		CurrentValue:   e.CurrentValue,
		ThresholdValue: e.ThresholdValue,
		Severity:       string(e.Severity),
		Window:         e.WindowKey,
	}
}

func MapEventDomainToApi(e domain.AlarmEvent) api.AlarmEvent {
	history := make([]api.EventTransition, 0, len(e.History))
	for _, h := range e.History {
		history = append(history, api.EventTransition{
			From: string(h.From),
			To:   string(h.To),
			At:   h.At,
			Note: h.Note,
		})
	}
	return api.AlarmEvent{
		ID:             e.ID,
		RuleID:         e.RuleID,
		RuleType:       string(e.RuleType),
		TriggeredAt:    e.TriggeredAt,
		UpdatedAt:      e.UpdatedAt,
		CurrentValue:   e.CurrentValue,
		ThresholdValue: e.ThresholdValue,
		Severity:       string(e.Severity),
		Window:         e.WindowKey,
		Status:         string(e.Status),
		History:        history,
	}
}

func MapEventPageDomainToApi(p domain.EventPage) api.EventPage {
	events := make([]api.AlarmEvent, 0, len(p.Events))
	for _, e := range p.Events {
		events = append(events, MapEventDomainToApi(e))
	}
	return api.EventPage{
		Events:   events,
		Page:     p.Page,
		PageSize: p.PageSize,
		Total:    p.Total,
	}
}
