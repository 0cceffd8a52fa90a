package ingest

import (
	"testing"
	"time"

	"github.com/execledger/execledger/internal/config"
)

func testBackpressureConfig() config.BackpressureConfig {
	return config.BackpressureConfig{
		Enabled: true,
		Thresholds: config.BackpressureThresholds{
			Warning:   0.5,
			Critical:  0.8,
			Emergency: 0.95,
		},
		Recovery: config.BackpressureRecovery{
			Hysteresis: 0.1,
			Cooldown:   0, // evaluate every check in tests
		},
	}
}

func fillQueue(q *Queue, n int) {
	for i := 0; i < n; i++ {
		q.Push(queueRecord(i))
	}
}

func TestController_LevelEscalation(t *testing.T) {
	tests := []struct {
		name     string
		fill     int // out of 100
		expected Level
	}{
		{"empty", 0, LevelNormal},
		{"below warning", 49, LevelNormal},
		{"at warning", 50, LevelWarning},
		{"at critical", 80, LevelCritical},
		{"at emergency", 95, LevelEmergency},
		{"full", 100, LevelEmergency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue(100)
			fillQueue(q, tt.fill)

			c := NewController(testBackpressureConfig(), q)
			if level := c.Check(); level != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, level)
			}
		})
	}
}

func TestController_HysteresisOnRecovery(t *testing.T) {
	q := NewQueue(100)
	c := NewController(testBackpressureConfig(), q)

	fillQueue(q, 55)
	if level := c.Check(); level != LevelWarning {
		t.Fatalf("expected warning, got %s", level)
	}

	// Inside the hysteresis band below the warning threshold: stay put.
	q.PopN(10) // 45%, band is [40%, 50%)
	if level := c.Check(); level != LevelWarning {
		t.Errorf("expected warning within hysteresis band, got %s", level)
	}

	// Below threshold minus hysteresis: recover.
	q.PopN(10) // 35%
	if level := c.Check(); level != LevelNormal {
		t.Errorf("expected normal after recovery, got %s", level)
	}
}

func TestController_StepwiseRecovery(t *testing.T) {
	q := NewQueue(100)
	c := NewController(testBackpressureConfig(), q)

	fillQueue(q, 96)
	if level := c.Check(); level != LevelEmergency {
		t.Fatalf("expected emergency, got %s", level)
	}

	// Even after a full drain, levels step down one check at a time.
	q.PopN(96)
	if level := c.Check(); level != LevelCritical {
		t.Errorf("first recovery check: expected critical, got %s", level)
	}
	if level := c.Check(); level != LevelWarning {
		t.Errorf("second recovery check: expected warning, got %s", level)
	}
	if level := c.Check(); level != LevelNormal {
		t.Errorf("third recovery check: expected normal, got %s", level)
	}
}

func TestController_Cooldown(t *testing.T) {
	cfg := testBackpressureConfig()
	cfg.Recovery.Cooldown = time.Hour

	q := NewQueue(100)
	c := NewController(cfg, q)

	if level := c.Check(); level != LevelNormal {
		t.Fatalf("expected normal, got %s", level)
	}

	// Queue spikes, but the cooldown keeps the previous verdict.
	fillQueue(q, 100)
	if level := c.Check(); level != LevelNormal {
		t.Errorf("expected cooldown to suppress re-evaluation, got %s", level)
	}
}

func TestController_Disabled(t *testing.T) {
	cfg := testBackpressureConfig()
	cfg.Enabled = false

	q := NewQueue(10)
	fillQueue(q, 10)

	c := NewController(cfg, q)
	if level := c.Check(); level != LevelNormal {
		t.Errorf("disabled controller must report normal, got %s", level)
	}
	if c.ShouldShed() {
		t.Error("disabled controller must not shed")
	}
}

func TestController_SheddingAndCallbacks(t *testing.T) {
	q := NewQueue(100)
	c := NewController(testBackpressureConfig(), q)

	var transitions []string
	c.SetOnLevelChange(func(old, new Level) {
		transitions = append(transitions, old.String()+">"+new.String())
	})

	fillQueue(q, 100)
	c.Check()

	if !c.ShouldShed() {
		t.Error("expected shedding at emergency level")
	}
	if !c.ShouldDeferMaintenance() {
		t.Error("expected maintenance deferral at emergency level")
	}
	if len(transitions) != 1 || transitions[0] != "normal>emergency" {
		t.Errorf("unexpected transitions: %v", transitions)
	}

	stats := c.Stats()
	if stats.CurrentLevel != "emergency" {
		t.Errorf("stats level: %s", stats.CurrentLevel)
	}
	if stats.EmergencyCount != 1 {
		t.Errorf("emergency count: %d", stats.EmergencyCount)
	}
}
