// Package backoff computes when a retry task should next be triggered.
package backoff

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"retryflow/internal/model"
	"retryflow/pkg/constraints"
)

var (
	ErrUnknownStrategy = errors.New("unknown backoff strategy")
	ErrMissingInterval = errors.New("fixed backoff requires a positive trigger interval")
)

var names = map[string]int{
	"DELAY_LEVEL": constraints.BackOffDelayLevel,
	"FIXED":       constraints.BackOffFixed,
	"CRON":        constraints.BackOffCron,
	"RANDOM":      constraints.BackOffRandom,
}

// Parse maps a strategy name onto its scene identifier.
func Parse(name string) (int, error) {
	id, ok := names[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return id, nil
}

type Options struct {
	RandomMin time.Duration
	RandomMax time.Duration
	// MaxDelayLevel clamps DELAY_LEVEL when > 0. Unset, a retry count past
	// the table falls back to FallbackLevel.
	MaxDelayLevel int
}

type Engine struct {
	opts Options
	now  func() time.Time
}

func NewEngine(opts Options) *Engine {
	if opts.RandomMin <= 0 {
		opts.RandomMin = time.Second
	}
	if opts.RandomMax < opts.RandomMin {
		opts.RandomMax = opts.RandomMin
	}
	return &Engine{opts: opts, now: time.Now}
}

// ComputeNextTrigger returns the next trigger time for strategy given the
// previous attempt. prev may be nil for a freshly reported task.
func (e *Engine) ComputeNextTrigger(strategy int, prev *model.RetryTask) (time.Time, error) {
	return e.compute(strategy, prev, 0)
}

// ComputeForScene uses the scene's strategy and, for FIXED, its interval.
func (e *Engine) ComputeForScene(scene *model.SceneConfig, prev *model.RetryTask) (time.Time, error) {
	return e.compute(scene.BackOff, prev, time.Duration(scene.TriggerInterval)*time.Second)
}

func (e *Engine) compute(strategy int, prev *model.RetryTask, interval time.Duration) (time.Time, error) {
	now := e.now()
	switch strategy {
	case constraints.BackOffRandom:
		return now.Add(e.randomDelay()), nil
	case constraints.BackOffDelayLevel:
		return now.Add(DelayOf(e.level(prev))), nil
	case constraints.BackOffFixed:
		if interval <= 0 {
			return time.Time{}, ErrMissingInterval
		}
		base := now
		if prev != nil && prev.NextTriggerAt.After(now) {
			base = prev.NextTriggerAt
		}
		return base.Add(interval), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %d", ErrUnknownStrategy, strategy)
	}
}

func (e *Engine) randomDelay() time.Duration {
	span := e.opts.RandomMax - e.opts.RandomMin
	if span <= 0 {
		return e.opts.RandomMin
	}
	return e.opts.RandomMin + time.Duration(rand.Int64N(int64(span)+1))
}

func (e *Engine) level(prev *model.RetryTask) int {
	if prev == nil {
		return 1
	}
	level := prev.RetryCount
	if e.opts.MaxDelayLevel > 0 && level > e.opts.MaxDelayLevel {
		level = e.opts.MaxDelayLevel
	}
	return level
}
