package alarm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/de-tools/cost-atlas/pkg/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ruleTypes = map[domain.RuleType]bool{
	domain.RuleTypeThreshold:  true,
	domain.RuleTypeAnomaly:    true,
	domain.RuleTypeBudget:     true,
	domain.RuleTypeForecast:   true,
	domain.RuleTypeEfficiency: true,
}

var severities = map[domain.Severity]bool{
	domain.SeverityLow:      true,
	domain.SeverityMedium:   true,
	domain.SeverityHigh:     true,
	domain.SeverityCritical: true,
}

// ValidateRule checks the rule shape and the config fields its type reads.
func ValidateRule(rule domain.AlarmRule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return errkind.New(errkind.InvalidInput, "rule name is required")
	}
	if !ruleTypes[rule.Type] {
		return errkind.New(errkind.InvalidInput, "unknown rule type %q", rule.Type)
	}
	switch rule.Status {
	case domain.RuleStatusActive, domain.RuleStatusInactive, domain.RuleStatusPaused, domain.RuleStatusError:
	default:
		return errkind.New(errkind.InvalidInput, "unknown rule status %q", rule.Status)
	}
	for _, p := range rule.Scope.Providers {
		if _, err := domain.ParseProvider(p); err != nil {
			return errkind.Wrap(errkind.InvalidInput, err, "invalid scope")
		}
	}

	cfg := rule.Config
	if cfg.Severity != "" && !severities[cfg.Severity] {
		return errkind.New(errkind.InvalidInput, "unknown severity %q", cfg.Severity)
	}
	if cfg.WindowDays < 0 || cfg.TrailingDays < 0 || cfg.StdDevs < 0 || cfg.TolerancePct < 0 {
		return errkind.New(errkind.InvalidInput, "window_days, trailing_days, std_devs and tolerance_pct cannot be negative")
	}

	switch rule.Type {
	case domain.RuleTypeThreshold:
		if _, err := cfg.Operator.Compare(0, 0); err != nil {
			return errkind.Wrap(errkind.InvalidInput, err, "threshold rule")
		}
	case domain.RuleTypeBudget:
		if cfg.Budget <= 0 {
			return errkind.New(errkind.InvalidInput, "budget rule needs a positive budget")
		}
	case domain.RuleTypeForecast:
		if cfg.Budget <= 0 && cfg.Threshold <= 0 {
			return errkind.New(errkind.InvalidInput, "forecast rule needs a positive budget or threshold")
		}
		if cfg.WindowDays != 0 && cfg.WindowDays < 7 {
			return errkind.New(errkind.InvalidInput, "forecast window must be at least 7 days")
		}
	case domain.RuleTypeAnomaly:
		if cfg.TrailingDays == 1 {
			return errkind.New(errkind.InvalidInput, "anomaly rule needs at least 2 trailing days")
		}
	case domain.RuleTypeEfficiency:
		// Usage quantities are only comparable within one service's unit.
		if len(rule.Scope.Services) != 1 {
			return errkind.New(errkind.InvalidInput, "efficiency rule must be scoped to exactly one service")
		}
	}
	return nil
}

type RuleManager interface {
	Create(ctx context.Context, rule domain.AlarmRule) (domain.AlarmRule, error)
	Update(ctx context.Context, id string, rule domain.AlarmRule) (domain.AlarmRule, error)
	Get(ctx context.Context, id string) (domain.AlarmRule, error)
	List(ctx context.Context) ([]domain.AlarmRule, error)
	Delete(ctx context.Context, id string) error
}

type RuleService struct {
	rules store.Repository[domain.AlarmRule]
	now   func() time.Time
}

var _ RuleManager = (*RuleService)(nil)

func NewRuleService(rules store.Repository[domain.AlarmRule]) *RuleService {
	return &RuleService{rules: rules, now: func() time.Time { return time.Now().UTC() }}
}

func (s *RuleService) Create(ctx context.Context, rule domain.AlarmRule) (domain.AlarmRule, error) {
	if rule.Status == "" {
		rule.Status = domain.RuleStatusActive
	}
	if err := ValidateRule(rule); err != nil {
		return domain.AlarmRule{}, err
	}
	now := s.now()
	rule.ID = uuid.NewString()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.StatusReason = ""
	rule.LastEvaluatedAt = nil

	if err := s.rules.Put(ctx, rule.ID, rule); err != nil {
		return domain.AlarmRule{}, fmt.Errorf("unable to store rule: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("rule_id", rule.ID).Str("type", string(rule.Type)).Msg("alarm rule created")
	return rule, nil
}

// Update replaces the rule definition. Identity, creation time and
// evaluation bookkeeping are kept.
func (s *RuleService) Update(ctx context.Context, id string, rule domain.AlarmRule) (domain.AlarmRule, error) {
	existing, err := s.rules.Get(ctx, id)
	if err != nil {
		return domain.AlarmRule{}, err
	}
	if rule.Status == "" {
		rule.Status = existing.Status
	}
	if rule.Status == domain.RuleStatusError {
		return domain.AlarmRule{}, errkind.New(errkind.InvalidInput, "status error is set by the evaluator")
	}
	if err := ValidateRule(rule); err != nil {
		return domain.AlarmRule{}, err
	}

	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	rule.LastEvaluatedAt = existing.LastEvaluatedAt
	rule.UpdatedAt = s.now()
	rule.StatusReason = ""
	if err := s.rules.Put(ctx, id, rule); err != nil {
		return domain.AlarmRule{}, fmt.Errorf("unable to store rule: %w", err)
	}
	return rule, nil
}

func (s *RuleService) Get(ctx context.Context, id string) (domain.AlarmRule, error) {
	return s.rules.Get(ctx, id)
}

func (s *RuleService) List(ctx context.Context) ([]domain.AlarmRule, error) {
	rules, err := s.rules.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to list rules: %w", err)
	}
	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
	return rules, nil
}

// Delete removes the rule. Its events remain queryable.
func (s *RuleService) Delete(ctx context.Context, id string) error {
	return s.rules.Delete(ctx, id)
}
