// Package monitor holds the background risk and reconciliation loops. Each
// monitor runs as its own goroutine against a shared trader, is fault
// isolated from the others, and exits when the trader's stop signal fires.
package monitor

import (
	"time"

	"go.uber.org/zap"
)

// runEvery drives one monitor loop. Iterations that fail or panic are logged
// and the loop keeps running; a monitor must never die of its own errors.
func runEvery(name string, interval time.Duration, stop <-chan struct{}, log *zap.Logger, tick func() error) {
	log.Debug("monitor started", zap.String("monitor", name))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			log.Debug("monitor exited", zap.String("monitor", name))
			return
		case <-t.C:
			iterate(name, log, tick)
		}
	}
}

func iterate(name string, log *zap.Logger, tick func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("monitor iteration panicked",
				zap.String("monitor", name), zap.Any("panic", r))
		}
	}()
	if err := tick(); err != nil {
		log.Error("monitor iteration", zap.String("monitor", name), zap.Error(err))
	}
}
