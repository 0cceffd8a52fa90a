package ingest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/execledger/execledger/internal/config"
)

// Level represents the current backpressure level.
type Level int

const (
	// LevelNormal - system operating normally.
	LevelNormal Level = iota

	// LevelWarning - elevated queue usage, defer non-critical maintenance.
	LevelWarning

	// LevelCritical - high queue usage, flush aggressively.
	LevelCritical

	// LevelEmergency - overload, shed incoming records to protect the store.
	LevelEmergency
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Controller tracks queue utilization and maps it to a backpressure level.
type Controller struct {
	mu sync.Mutex

	config config.BackpressureConfig
	queue  *Queue

	level     atomic.Int32
	lastCheck time.Time
	lastLevel Level

	stats struct {
		levelChanges   int64
		emergencyCount int64
	}

	onLevelChange func(old, new Level)
}

// NewController creates a backpressure controller watching the given queue.
func NewController(cfg config.BackpressureConfig, q *Queue) *Controller {
	return &Controller{
		config: cfg,
		queue:  q,
	}
}

// SetOnLevelChange sets the callback for level changes.
func (c *Controller) SetOnLevelChange(fn func(old, new Level)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevelChange = fn
}

// Check evaluates current queue usage and updates the level.
// This should be called periodically.
func (c *Controller) Check() Level {
	if !c.config.Enabled {
		return LevelNormal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	// Respect cooldown between evaluations
	if !c.lastCheck.IsZero() && now.Sub(c.lastCheck) < c.config.Recovery.Cooldown {
		return Level(c.level.Load())
	}
	c.lastCheck = now

	usage := c.queue.UsageRatio()
	newLevel := c.determineLevel(usage)

	if newLevel != c.lastLevel {
		c.setLevel(newLevel)
	}

	return newLevel
}

// determineLevel maps usage to a level, with hysteresis on the way down so
// a queue hovering at a threshold does not flap between levels.
func (c *Controller) determineLevel(usage float64) Level {
	thresholds := c.config.Thresholds
	hysteresis := c.config.Recovery.Hysteresis
	currentLevel := c.lastLevel

	// Going up (increasing pressure)
	if usage >= thresholds.Emergency {
		return LevelEmergency
	}
	if usage >= thresholds.Critical {
		return LevelCritical
	}
	if usage >= thresholds.Warning {
		return LevelWarning
	}

	// Going down (decreasing pressure) - apply hysteresis
	switch currentLevel {
	case LevelEmergency:
		if usage < thresholds.Emergency-hysteresis {
			return LevelCritical
		}
		return LevelEmergency
	case LevelCritical:
		if usage < thresholds.Critical-hysteresis {
			return LevelWarning
		}
		return LevelCritical
	case LevelWarning:
		if usage < thresholds.Warning-hysteresis {
			return LevelNormal
		}
		return LevelWarning
	default:
		return LevelNormal
	}
}

// setLevel updates the current level and fires the callback.
func (c *Controller) setLevel(newLevel Level) {
	oldLevel := c.lastLevel
	c.lastLevel = newLevel
	c.level.Store(int32(newLevel))
	c.stats.levelChanges++

	if newLevel == LevelEmergency {
		c.stats.emergencyCount++
	}

	if c.onLevelChange != nil {
		c.onLevelChange(oldLevel, newLevel)
	}
}

// CurrentLevel returns the current backpressure level.
func (c *Controller) CurrentLevel() Level {
	return Level(c.level.Load())
}

// ShouldShed returns true if incoming records should be dropped.
func (c *Controller) ShouldShed() bool {
	return c.CurrentLevel() == LevelEmergency
}

// ShouldDeferMaintenance returns true if background maintenance such as
// rollup refreshes should wait for load to drop.
func (c *Controller) ShouldDeferMaintenance() bool {
	return c.CurrentLevel() >= LevelCritical
}

// ControllerStats holds controller statistics.
type ControllerStats struct {
	CurrentLevel   string  `json:"current_level"`
	LevelChanges   int64   `json:"level_changes"`
	EmergencyCount int64   `json:"emergency_count"`
	QueueUsage     float64 `json:"queue_usage"`
}

// Stats returns current statistics.
func (c *Controller) Stats() ControllerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ControllerStats{
		CurrentLevel:   c.CurrentLevel().String(),
		LevelChanges:   c.stats.levelChanges,
		EmergencyCount: c.stats.emergencyCount,
		QueueUsage:     c.queue.UsageRatio(),
	}
}

// IsEnabled returns whether backpressure is enabled.
func (c *Controller) IsEnabled() bool {
	return c.config.Enabled
}
