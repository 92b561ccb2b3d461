package plan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimit_NilPlanSafe(t *testing.T) {
	var p *Plan
	assert.Nil(t, p.Limit(MetricAIConversations))
}

func TestDefaultPlans_UpgradeLadder(t *testing.T) {
	plans := DefaultPlans()
	assert.Equal(t, "starter", plans["free"].SuggestedUpgrade)
	assert.Equal(t, "growth", plans["starter"].SuggestedUpgrade)
	assert.Equal(t, "scale", plans["growth"].SuggestedUpgrade)
	assert.Empty(t, plans["scale"].SuggestedUpgrade)

	// Every suggested upgrade is a real plan.
	for name, p := range plans {
		if p.SuggestedUpgrade != "" {
			_, ok := plans[p.SuggestedUpgrade]
			assert.True(t, ok, "plan %s suggests unknown plan %s", name, p.SuggestedUpgrade)
		}
	}
}

func TestDefaultPlans_GrowthUnmeteredCaptures(t *testing.T) {
	plans := DefaultPlans()
	assert.Nil(t, plans["growth"].Limit(MetricLeadCaptures))
	require.NotNil(t, plans["free"].Limit(MetricLeadCaptures))
	assert.Equal(t, int64(200), *plans["free"].Limit(MetricLeadCaptures))
}

func TestStaticRegistry_UnknownTenantGetsDefault(t *testing.T) {
	reg, err := NewStaticRegistry(DefaultPlans(), "free")
	require.NoError(t, err)

	res, err := reg.Resolve(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Equal(t, "free", res.Plan.Name)
	assert.Equal(t, StatusActive, res.Status)
}

func TestStaticRegistry_Assign(t *testing.T) {
	reg, err := NewStaticRegistry(DefaultPlans(), "free")
	require.NoError(t, err)

	require.NoError(t, reg.Assign("t1", "growth", StatusPastDue))
	res, err := reg.Resolve(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "growth", res.Plan.Name)
	assert.Equal(t, StatusPastDue, res.Status)

	assert.Error(t, reg.Assign("t2", "no-such-plan", ""))
}

func TestNewStaticRegistry_BadDefault(t *testing.T) {
	_, err := NewStaticRegistry(DefaultPlans(), "enterprise")
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default_plan: starter
plans:
  - name: custom
    limits:
      ai_conversations: 7
    suggested_upgrade: growth
tenants:
  acme:
    plan: custom
    status: active
`), 0o644))

	reg, err := LoadFile(path)
	require.NoError(t, err)

	res, err := reg.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "custom", res.Plan.Name)
	require.NotNil(t, res.Plan.Limit(MetricAIConversations))
	assert.Equal(t, int64(7), *res.Plan.Limit(MetricAIConversations))
	assert.Nil(t, res.Plan.Limit(MetricEmailSends), "unlisted metrics are unmetered")

	// Built-in plans survive the merge; unknown tenants get the file default.
	other, err := reg.Resolve(context.Background(), "other")
	require.NoError(t, err)
	assert.Equal(t, "starter", other.Plan.Name)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile("/nonexistent/plans.yaml")
	assert.Error(t, err)
}
