package rollup

import (
	"sort"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/execledger/execledger/internal/store"
)

// =============================================================================
// Accumulators
// =============================================================================

// tierAcc accumulates one model tier within the tier window.
type tierAcc struct {
	executions    int64
	successes     int64
	durationSum   float64
	qualitySum    float64
	confidenceSum float64
	costSum       float64
	duration      *ddsketch.DDSketch
}

// poolAcc accumulates one pool type within the pool window.
type poolAcc struct {
	usage       int64
	successes   int64
	durationSum float64
	memorySum   float64
	duration    *ddsketch.DDSketch
}

type patternKey struct {
	taskType string
	summary  string
}

// patternAcc accumulates one (task_type, solution_summary) pair within
// the pattern window.
type patternAcc struct {
	usage      int64
	successes  int64
	qualitySum float64
	costSum    float64
	lastUsed   time.Time
}

// =============================================================================
// Builder
// =============================================================================

// builder computes all three views from a single pass over metric rows.
// Rows are dispatched to each view whose trailing window covers them,
// so one scan bounded by the widest window feeds every view.
type builder struct {
	accuracy   float64
	minSupport int

	tierCutoff time.Time
	poolCutoff time.Time

	tiers    map[string]*tierAcc
	pools    map[string]*poolAcc
	patterns map[patternKey]*patternAcc
}

func newBuilder(now time.Time, accuracy float64, minSupport int) *builder {
	return &builder{
		accuracy:   accuracy,
		minSupport: minSupport,
		tierCutoff: now.Add(-tierWindow),
		poolCutoff: now.Add(-poolWindow),
		tiers:      make(map[string]*tierAcc),
		pools:      make(map[string]*poolAcc),
		patterns:   make(map[patternKey]*patternAcc),
	}
}

// newSketch creates a duration sketch with the configured accuracy.
// Returns nil on invalid accuracy; percentiles then read as zero.
func (b *builder) newSketch() *ddsketch.DDSketch {
	sketch, err := ddsketch.NewDefaultDDSketch(b.accuracy)
	if err != nil {
		return nil
	}
	return sketch
}

// add dispatches one metric row to every view whose window covers it.
// The scan is bounded by the pattern window, the widest of the three.
func (b *builder) add(row *store.MetricRow) {
	if !row.Timestamp.Before(b.tierCutoff) {
		b.addTier(row)
	}
	if !row.Timestamp.Before(b.poolCutoff) {
		b.addPool(row)
	}
	b.addPattern(row)
}

func (b *builder) addTier(row *store.MetricRow) {
	acc, ok := b.tiers[row.ModelTier]
	if !ok {
		acc = &tierAcc{duration: b.newSketch()}
		b.tiers[row.ModelTier] = acc
	}

	acc.executions++
	if row.Success {
		acc.successes++
	}
	acc.durationSum += row.DurationSeconds
	acc.qualitySum += row.QualityScore
	acc.confidenceSum += row.RoutingConfidence
	acc.costSum += row.ActualCost
	if acc.duration != nil {
		acc.duration.Add(row.DurationSeconds)
	}
}

func (b *builder) addPool(row *store.MetricRow) {
	acc, ok := b.pools[row.PoolType]
	if !ok {
		acc = &poolAcc{duration: b.newSketch()}
		b.pools[row.PoolType] = acc
	}

	acc.usage++
	if row.Success {
		acc.successes++
	}
	acc.durationSum += row.DurationSeconds
	acc.memorySum += row.PeakMemoryMB
	if acc.duration != nil {
		acc.duration.Add(row.DurationSeconds)
	}
}

func (b *builder) addPattern(row *store.MetricRow) {
	if row.SolutionSummary == "" {
		return
	}

	key := patternKey{taskType: row.TaskType, summary: row.SolutionSummary}
	acc, ok := b.patterns[key]
	if !ok {
		acc = &patternAcc{}
		b.patterns[key] = acc
	}

	acc.usage++
	if row.Success {
		acc.successes++
	}
	acc.qualitySum += row.QualityScore
	acc.costSum += row.ActualCost
	if row.Timestamp.After(acc.lastUsed) {
		acc.lastUsed = row.Timestamp
	}
}

// =============================================================================
// Materialization
// =============================================================================

// snapshot materializes the accumulated state into sorted view rows.
// Ordering is total (count descending, then key ascending) so the same
// underlying rows always produce an identical snapshot.
func (b *builder) snapshot() *Snapshot {
	snap := &Snapshot{
		TierPerformance:  make([]TierPerformance, 0, len(b.tiers)),
		PoolPerformance:  make([]PoolPerformance, 0, len(b.pools)),
		SolutionPatterns: make([]SolutionPattern, 0, len(b.patterns)),
	}

	for tier, acc := range b.tiers {
		n := float64(acc.executions)
		row := TierPerformance{
			ModelTier:            tier,
			Executions:           acc.executions,
			Successes:            acc.successes,
			SuccessRate:          float64(acc.successes) / n,
			AvgDurationSeconds:   acc.durationSum / n,
			AvgQualityScore:      acc.qualitySum / n,
			AvgRoutingConfidence: acc.confidenceSum / n,
			AvgCost:              acc.costSum / n,
			TotalCost:            acc.costSum,
		}
		if acc.duration != nil && acc.executions > 0 {
			p95, _ := acc.duration.GetValueAtQuantile(0.95)
			row.P95DurationSeconds = p95
		}
		snap.TierPerformance = append(snap.TierPerformance, row)
	}
	sort.Slice(snap.TierPerformance, func(i, j int) bool {
		a, b := snap.TierPerformance[i], snap.TierPerformance[j]
		if a.Executions != b.Executions {
			return a.Executions > b.Executions
		}
		return a.ModelTier < b.ModelTier
	})

	for pool, acc := range b.pools {
		n := float64(acc.usage)
		row := PoolPerformance{
			PoolType:           pool,
			Usage:              acc.usage,
			Successes:          acc.successes,
			SuccessRate:        float64(acc.successes) / n,
			AvgDurationSeconds: acc.durationSum / n,
			AvgPeakMemoryMB:    acc.memorySum / n,
		}
		if acc.duration != nil && acc.usage > 0 {
			p50, _ := acc.duration.GetValueAtQuantile(0.50)
			p95, _ := acc.duration.GetValueAtQuantile(0.95)
			row.P50DurationSeconds = p50
			row.P95DurationSeconds = p95
		}
		snap.PoolPerformance = append(snap.PoolPerformance, row)
	}
	sort.Slice(snap.PoolPerformance, func(i, j int) bool {
		a, b := snap.PoolPerformance[i], snap.PoolPerformance[j]
		if a.Usage != b.Usage {
			return a.Usage > b.Usage
		}
		return a.PoolType < b.PoolType
	})

	for key, acc := range b.patterns {
		if acc.usage < int64(b.minSupport) {
			continue
		}
		n := float64(acc.usage)
		snap.SolutionPatterns = append(snap.SolutionPatterns, SolutionPattern{
			TaskType:        key.taskType,
			SolutionSummary: key.summary,
			UsageCount:      acc.usage,
			SuccessRate:     float64(acc.successes) / n,
			AvgQualityScore: acc.qualitySum / n,
			AvgCost:         acc.costSum / n,
			LastUsed:        acc.lastUsed,
		})
	}
	sort.Slice(snap.SolutionPatterns, func(i, j int) bool {
		a, b := snap.SolutionPatterns[i], snap.SolutionPatterns[j]
		if a.UsageCount != b.UsageCount {
			return a.UsageCount > b.UsageCount
		}
		if a.TaskType != b.TaskType {
			return a.TaskType < b.TaskType
		}
		return a.SolutionSummary < b.SolutionSummary
	})

	return snap
}
