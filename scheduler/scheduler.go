package scheduler

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Task is one unit of periodic work. Errors are logged, not fatal: a failed
// tick leaves its durable checkpoint behind and the next tick resumes.
type Task func(ctx context.Context) error

// Loop drives one task on a fixed interval. Ticks never overlap: if a tick
// is still running when the next interval fires, the new tick is skipped.
// That matters here because every task manipulates a single durable slot, and
// two concurrent passes over the same slot would race each other's
// checkpoints.
type Loop struct {
	name     string
	interval time.Duration
	task     Task
	busy     atomic.Bool
}

func NewLoop(name string, interval time.Duration, task Task) *Loop {
	return &Loop{name: name, interval: interval, task: task}
}

// Run blocks until ctx is cancelled. The first tick fires after one full
// interval, not immediately; startup work (recovery) runs before loops start.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("scheduler: %s loop stopped", l.name)
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if !l.busy.CompareAndSwap(false, true) {
		log.Printf("scheduler: %s tick still running, skipping", l.name)
		return
	}
	defer l.busy.Store(false)

	if err := l.task(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("scheduler: %s tick failed: %v", l.name, err)
	}
}
