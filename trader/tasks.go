package trader

import "context"

// runTask starts a supervised background task. The task's context is canceled
// when the trader stops, when a task with the same key replaces it, or — for
// order-keyed tasks — when the order reaches a terminal state, so no retry
// loop outlives the order it serves.
func (t *Trader) runTask(key string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	select {
	case <-t.stop:
		t.mu.Unlock()
		cancel()
		return
	default:
	}
	if prev, ok := t.tasks[key]; ok {
		prev()
	}
	t.tasks[key] = cancel
	t.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			t.mu.Lock()
			delete(t.tasks, key)
			t.mu.Unlock()
		}()
		fn(ctx)
	}()
}

// RunOrderTask runs fn keyed by the order's local id. Terminal order
// transitions (closed, canceled, rejected) cancel it.
func (t *Trader) RunOrderTask(orderID string, fn func(ctx context.Context)) {
	t.runTask(orderID, fn)
}

func (t *Trader) cancelOrderTaskLocked(orderID string) {
	if cancel, ok := t.tasks[orderID]; ok {
		cancel()
		delete(t.tasks, orderID)
	}
}
