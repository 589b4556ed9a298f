package orchestrator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/visgate/control-plane/internal/config"
	"go.uber.org/zap"
)

// Pool policies stamped onto deployment records.
const (
	PolicyAlwaysOn  = "always_on"
	PolicyScheduled = "scheduled"
)

type hourWindow struct {
	start int // inclusive
	end   int // exclusive; end <= start wraps past midnight
}

func (w hourWindow) contains(hour int) bool {
	if w.start < w.end {
		return hour >= w.start && hour < w.end
	}
	return hour >= w.start || hour < w.end
}

// PoolPolicy decides whether a model belongs to the shared warm pool. Pooled
// deployments share one endpoint per model instead of one per caller, and
// keep a worker pinned while their window is open.
type PoolPolicy struct {
	alwaysOn  map[string]bool
	scheduled map[string]bool
	windows   []hourWindow
	location  *time.Location
	now       func() time.Time
}

func NewPoolPolicy(cfg config.WarmPoolConfig, logger *zap.Logger) *PoolPolicy {
	p := &PoolPolicy{
		alwaysOn:  csvSet(cfg.AlwaysOnModels),
		scheduled: csvSet(cfg.ScheduledModels),
		location:  time.UTC,
		now:       time.Now,
	}
	if !cfg.Enabled {
		p.alwaysOn = nil
		p.scheduled = nil
		return p
	}
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Warn("invalid warm pool timezone, using UTC",
				zap.String("timezone", cfg.Timezone), zap.Error(err))
		} else {
			p.location = loc
		}
	}
	windows, err := parseHourWindows(cfg.ScheduleHours)
	if err != nil {
		logger.Warn("invalid warm pool schedule, scheduled models disabled",
			zap.String("schedule_hours", cfg.ScheduleHours), zap.Error(err))
		p.scheduled = nil
	}
	p.windows = windows
	return p
}

func csvSet(csv string) map[string]bool {
	out := make(map[string]bool)
	for _, item := range strings.Split(csv, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out[item] = true
		}
	}
	return out
}

// parseHourWindows parses forms like "8-20" and "8-12,14-18". A window whose
// end does not exceed its start wraps past midnight ("22-6").
func parseHourWindows(spec string) ([]hourWindow, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	var windows []hourWindow
	for _, part := range strings.Split(spec, ",") {
		bounds := strings.SplitN(strings.TrimSpace(part), "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("invalid hour window %q", part)
		}
		start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid hour window %q: %w", part, err)
		}
		end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid hour window %q: %w", part, err)
		}
		if start < 0 || start > 23 || end < 0 || end > 24 {
			return nil, fmt.Errorf("hour window %q out of range", part)
		}
		windows = append(windows, hourWindow{start: start, end: end})
	}
	return windows, nil
}

// PolicyFor returns the pool policy for a model: PolicyAlwaysOn,
// PolicyScheduled (only while its window is open), or "" for per-caller
// deployments.
func (p *PoolPolicy) PolicyFor(modelID string) string {
	if p == nil {
		return ""
	}
	if p.alwaysOn[modelID] {
		return PolicyAlwaysOn
	}
	if p.scheduled[modelID] && p.windowOpen() {
		return PolicyScheduled
	}
	return ""
}

func (p *PoolPolicy) windowOpen() bool {
	if len(p.windows) == 0 {
		return false
	}
	hour := p.now().In(p.location).Hour()
	for _, w := range p.windows {
		if w.contains(hour) {
			return true
		}
	}
	return false
}
