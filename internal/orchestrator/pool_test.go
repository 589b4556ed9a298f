package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/visgate/control-plane/internal/config"
)

func policyAt(t *testing.T, cfg config.WarmPoolConfig, hour int) *PoolPolicy {
	t.Helper()
	p := NewPoolPolicy(cfg, zap.NewNop())
	p.now = func() time.Time {
		return time.Date(2026, 8, 24, hour, 30, 0, 0, p.location)
	}
	return p
}

func TestPoolPolicyAlwaysOn(t *testing.T) {
	p := policyAt(t, config.WarmPoolConfig{
		Enabled:        true,
		AlwaysOnModels: "black-forest-labs/FLUX.1-schnell, stabilityai/sd-turbo",
	}, 3)
	assert.Equal(t, PolicyAlwaysOn, p.PolicyFor("black-forest-labs/FLUX.1-schnell"))
	assert.Equal(t, PolicyAlwaysOn, p.PolicyFor("stabilityai/sd-turbo"))
	assert.Equal(t, "", p.PolicyFor("someone/other-model"))
}

func TestPoolPolicyScheduledInsideWindow(t *testing.T) {
	cfg := config.WarmPoolConfig{
		Enabled:         true,
		ScheduledModels: "stabilityai/sdxl-turbo",
		ScheduleHours:   "8-20",
		Timezone:        "UTC",
	}
	assert.Equal(t, PolicyScheduled, policyAt(t, cfg, 12).PolicyFor("stabilityai/sdxl-turbo"))
	assert.Equal(t, "", policyAt(t, cfg, 22).PolicyFor("stabilityai/sdxl-turbo"))
	assert.Equal(t, "", policyAt(t, cfg, 20).PolicyFor("stabilityai/sdxl-turbo"))
}

func TestPoolPolicySplitWindows(t *testing.T) {
	cfg := config.WarmPoolConfig{
		Enabled:         true,
		ScheduledModels: "m",
		ScheduleHours:   "8-12,14-18",
	}
	assert.Equal(t, PolicyScheduled, policyAt(t, cfg, 9).PolicyFor("m"))
	assert.Equal(t, "", policyAt(t, cfg, 13).PolicyFor("m"))
	assert.Equal(t, PolicyScheduled, policyAt(t, cfg, 15).PolicyFor("m"))
}

func TestPoolPolicyOvernightWindow(t *testing.T) {
	cfg := config.WarmPoolConfig{
		Enabled:         true,
		ScheduledModels: "m",
		ScheduleHours:   "22-6",
	}
	assert.Equal(t, PolicyScheduled, policyAt(t, cfg, 23).PolicyFor("m"))
	assert.Equal(t, PolicyScheduled, policyAt(t, cfg, 2).PolicyFor("m"))
	assert.Equal(t, "", policyAt(t, cfg, 12).PolicyFor("m"))
}

func TestPoolPolicyDisabled(t *testing.T) {
	p := NewPoolPolicy(config.WarmPoolConfig{
		Enabled:        false,
		AlwaysOnModels: "m",
	}, zap.NewNop())
	assert.Equal(t, "", p.PolicyFor("m"))
}

func TestPoolPolicyInvalidScheduleDisablesScheduled(t *testing.T) {
	p := policyAt(t, config.WarmPoolConfig{
		Enabled:         true,
		ScheduledModels: "m",
		ScheduleHours:   "not-a-window",
	}, 12)
	assert.Equal(t, "", p.PolicyFor("m"))
}
