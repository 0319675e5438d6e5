package addon

import (
	"context"
	"fmt"
	"slices"

	"github.com/TencentBlueKing/bkpaas/pkg/domain"
	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
)

// BindContext is what a plan is selected for.
type BindContext struct {
	AppCode string
	Region  string
	Module  string
	Stage   domain.Stage
}

// Policy selects a plan of a service.
type Policy interface {
	SelectPlan(ctx context.Context, bc BindContext) (string, error)
}

// Uniform selects one plan for every environment.
type Uniform struct {
	PlanID string
}

func (u Uniform) SelectPlan(context.Context, BindContext) (string, error) {
	if u.PlanID == "" {
		return "", domerr.Precondition("uniform policy has no plan")
	}
	return u.PlanID, nil
}

// EnvSpecific selects a plan for each stage.
type EnvSpecific struct {
	PlanIDs map[domain.Stage]string
}

func (e EnvSpecific) SelectPlan(_ context.Context, bc BindContext) (string, error) {
	plan, ok := e.PlanIDs[bc.Stage]
	if !ok || plan == "" {
		return "", domerr.Precondition("no plan for stage %s", bc.Stage)
	}
	return plan, nil
}

// RuleBased selects the plan of the first matching rule, or the default plan.
type RuleBased struct {
	Rules         []domain.PolicyRule
	DefaultPlanID string
}

func (r RuleBased) SelectPlan(_ context.Context, bc BindContext) (string, error) {
	for _, rule := range r.Rules {
		if Match(rule.Matcher, bc) {
			return rule.PlanID, nil
		}
	}
	if r.DefaultPlanID == "" {
		return "", domerr.Precondition("no rule matches %s/%s (%s), and no default plan", bc.AppCode, bc.Module, bc.Stage)
	}
	return r.DefaultPlanID, nil
}

// Match reports whether m matches bc. Empty fields of m match anything.
func Match(m domain.RuleMatcher, bc BindContext) bool {
	return (len(m.AppCodes) == 0 || slices.Contains(m.AppCodes, bc.AppCode)) &&
		(len(m.Modules) == 0 || slices.Contains(m.Modules, bc.Module)) &&
		(len(m.Stages) == 0 || slices.Contains(m.Stages, bc.Stage)) &&
		(len(m.Regions) == 0 || slices.Contains(m.Regions, bc.Region))
}

// PolicyOf returns the Policy for a stored binding policy.
func PolicyOf(p domain.BindingPolicy) (Policy, error) {
	switch p.Type {
	case domain.PolicyUniform:
		return Uniform{PlanID: p.PlanID}, nil
	case domain.PolicyEnvSpecific:
		return EnvSpecific{PlanIDs: p.EnvPlanIDs}, nil
	case domain.PolicyRuleBased:
		return RuleBased{Rules: p.Rules, DefaultPlanID: p.DefaultPlanID}, nil
	default:
		return nil, fmt.Errorf("unknown binding policy type: %s", p.Type)
	}
}
