package domain

import (
	"fmt"
	"time"
)

type AddonService struct {
	ID          string
	Name        string
	DisplayName string
	Category    string

	// "local", or name of the remote broker configuration.
	Provider string

	// keys which are exported without the service-name prefix.
	ProtectedKeys []string

	Plans []Plan
}

// Remote reports whether the service is provided by a remote broker.
func (s AddonService) Remote() bool {
	return s.Provider != "" && s.Provider != "local"
}

// Plan looks up a plan by id.
func (s AddonService) Plan(id string) (Plan, bool) {
	for _, p := range s.Plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

type Plan struct {
	ID        string
	ServiceID string
	Name      string

	// eager plans are provisioned on bind. others are on first deploy.
	IsEager bool

	IsActive bool
	Config   map[string]string
}

type PolicyType string

const (
	PolicyUniform     PolicyType = "uniform"
	PolicyEnvSpecific PolicyType = "env_specific"
	PolicyRuleBased   PolicyType = "rule_based"
)

func AsPolicyType(s string) (PolicyType, error) {
	switch PolicyType(s) {
	case PolicyUniform, PolicyEnvSpecific, PolicyRuleBased:
		return PolicyType(s), nil
	default:
		return "", fmt.Errorf("'%s' is not a binding policy type", s)
	}
}

// RuleMatcher matches a binding context. Empty fields match anything.
type RuleMatcher struct {
	AppCodes []string `json:"app_codes,omitempty"`
	Modules  []string `json:"modules,omitempty"`
	Stages   []Stage  `json:"stages,omitempty"`
	Regions  []string `json:"regions,omitempty"`
}

type PolicyRule struct {
	Matcher RuleMatcher `json:"matcher"`
	PlanID  string      `json:"plan_id"`
}

// BindingPolicy selects a plan when a service is bound. One per (service, tenant).
type BindingPolicy struct {
	ServiceID string
	TenantID  string
	Type      PolicyType

	// for uniform
	PlanID string

	// for env_specific
	EnvPlanIDs map[Stage]string

	// for rule_based. The first matching rule wins, then DefaultPlanID.
	Rules         []PolicyRule
	DefaultPlanID string
}

// AddonBinding is a (module, service) pair. It does not create instances by itself.
type AddonBinding struct {
	ID        string
	ModuleID  string
	ServiceID string

	// plan selected for each stage at bind time.
	PlanIDs map[Stage]string

	CreatedAt time.Time
}

// Attachment links a binding to an environment.
type Attachment struct {
	ID            string
	BindingID     string
	ModuleID      string
	ServiceID     string
	EnvironmentID string
	Stage         Stage
	PlanID        string

	// empty until provisioned.
	InstanceID string

	ProvisionedAt *time.Time
}

// Provisioned reports whether a service instance is allocated.
func (a Attachment) Provisioned() bool {
	return a.InstanceID != ""
}

type InstanceConfig struct {
	// false hides credentials from runtime environment variables.
	CredentialsEnabled bool `json:"credentials_enabled"`

	// true when the broker deletes instances synchronously.
	RecycleOnDelete bool `json:"recycle_on_delete,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

type ServiceInstance struct {
	ID        string
	ServiceID string
	PlanID    string

	// encrypted credentials.
	Credentials []byte

	Config    InstanceConfig
	CreatedAt time.Time
}

// UnboundAttachment keeps an instance whose binding is removed, until it is recycled.
type UnboundAttachment struct {
	ID            string
	ModuleID      string
	ServiceID     string
	EnvironmentID string
	InstanceID    string
	UnboundAt     time.Time
}

// SharedAttachment tells that ModuleID shares the service bound to RefModuleID.
type SharedAttachment struct {
	ModuleID    string
	RefModuleID string
	ServiceID   string
	CreatedAt   time.Time
}

// PreCreatedInstance is a credential set prepared by operators for local services.
type PreCreatedInstance struct {
	ID          string
	PlanID      string
	Credentials []byte
	Config      InstanceConfig
	IsAllocated bool
}
