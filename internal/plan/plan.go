// Package plan resolves tenants to billing plans and their metric limits.
package plan

import (
	"context"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Metered usage metrics.
const (
	MetricAIConversations = "ai_conversations"
	MetricEmailSends      = "email_sends"
	MetricSMSSends        = "sms_sends"
	MetricLeadCaptures    = "lead_captures"
)

// Plan statuses.
const (
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
)

// Plan is a named billing plan. A nil limit means the metric is unmetered on
// this plan.
type Plan struct {
	Name             string            `yaml:"name"`
	Limits           map[string]*int64 `yaml:"limits"`
	SuggestedUpgrade string            `yaml:"suggested_upgrade,omitempty"`
}

// Limit returns the per-period ceiling for metric, nil = unlimited.
func (p *Plan) Limit(metric string) *int64 {
	if p == nil || p.Limits == nil {
		return nil
	}
	return p.Limits[metric]
}

// Resolution is a tenant's resolved plan and billing status.
type Resolution struct {
	Plan   *Plan
	Status string
}

// Registry resolves a tenant to its plan.
type Registry interface {
	Resolve(ctx context.Context, tenantID string) (*Resolution, error)
}

func limit(n int64) *int64 { return &n }

// DefaultPlans returns the built-in plan ladder.
func DefaultPlans() map[string]*Plan {
	return map[string]*Plan{
		"free": {
			Name: "free",
			Limits: map[string]*int64{
				MetricAIConversations: limit(50),
				MetricEmailSends:      limit(100),
				MetricSMSSends:        limit(0),
				MetricLeadCaptures:    limit(200),
			},
			SuggestedUpgrade: "starter",
		},
		"starter": {
			Name: "starter",
			Limits: map[string]*int64{
				MetricAIConversations: limit(1000),
				MetricEmailSends:      limit(5000),
				MetricSMSSends:        limit(500),
				MetricLeadCaptures:    limit(5000),
			},
			SuggestedUpgrade: "growth",
		},
		"growth": {
			Name: "growth",
			Limits: map[string]*int64{
				MetricAIConversations: limit(10000),
				MetricEmailSends:      limit(50000),
				MetricSMSSends:        limit(5000),
				// lead_captures unmetered from growth up
			},
			SuggestedUpgrade: "scale",
		},
		"scale": {
			Name:   "scale",
			Limits: map[string]*int64{},
		},
	}
}

// StaticRegistry maps tenants to plans from in-memory assignments. Tenants
// without an assignment fall back to the default plan.
type StaticRegistry struct {
	mu          sync.RWMutex
	plans       map[string]*Plan
	assignments map[string]tenantAssignment
	defaultPlan string
}

type tenantAssignment struct {
	Plan   string `yaml:"plan"`
	Status string `yaml:"status"`
}

// NewStaticRegistry creates a registry over the given plans. defaultPlan
// must exist in plans.
func NewStaticRegistry(plans map[string]*Plan, defaultPlan string) (*StaticRegistry, error) {
	if _, ok := plans[defaultPlan]; !ok {
		return nil, eris.Errorf("plan: default plan %q not defined", defaultPlan)
	}
	return &StaticRegistry{
		plans:       plans,
		assignments: make(map[string]tenantAssignment),
		defaultPlan: defaultPlan,
	}, nil
}

// Assign binds a tenant to a plan.
func (r *StaticRegistry) Assign(tenantID, planName, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plans[planName]; !ok {
		return eris.Errorf("plan: unknown plan %q", planName)
	}
	if status == "" {
		status = StatusActive
	}
	r.assignments[tenantID] = tenantAssignment{Plan: planName, Status: status}
	return nil
}

// Resolve returns the tenant's plan, falling back to the default plan for
// unknown tenants.
func (r *StaticRegistry) Resolve(_ context.Context, tenantID string) (*Resolution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assignments[tenantID]
	if !ok {
		return &Resolution{Plan: r.plans[r.defaultPlan], Status: StatusActive}, nil
	}
	p, ok := r.plans[a.Plan]
	if !ok {
		return nil, eris.Errorf("plan: tenant %s assigned to unknown plan %q", tenantID, a.Plan)
	}
	return &Resolution{Plan: p, Status: a.Status}, nil
}

// registryFile is the on-disk shape for LoadFile.
type registryFile struct {
	DefaultPlan string                      `yaml:"default_plan"`
	Plans       []*Plan                     `yaml:"plans"`
	Tenants     map[string]tenantAssignment `yaml:"tenants"`
}

// LoadFile reads a plan registry from a YAML file. Plans in the file are
// merged over the built-in defaults, so a file can override just one plan.
func LoadFile(path string) (*StaticRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "plan: read %s", path)
	}

	var f registryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrapf(err, "plan: parse %s", path)
	}

	plans := DefaultPlans()
	for _, p := range f.Plans {
		if p.Name == "" {
			return nil, eris.Errorf("plan: unnamed plan in %s", path)
		}
		plans[p.Name] = p
	}

	defaultPlan := f.DefaultPlan
	if defaultPlan == "" {
		defaultPlan = "free"
	}

	reg, err := NewStaticRegistry(plans, defaultPlan)
	if err != nil {
		return nil, err
	}
	for tenantID, a := range f.Tenants {
		if err := reg.Assign(tenantID, a.Plan, a.Status); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
