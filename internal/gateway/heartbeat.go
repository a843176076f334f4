// ABOUTME: Per-connection background keepalive task
// ABOUTME: Emits periodic ping frames, detects stale peers, and supports awaited cancellation

package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HeartbeatTask is the handle for one connection's keepalive loop.
type HeartbeatTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Cancel stops the task and waits for it to finish. Safe to call multiple
// times; every call returns only after the loop has exited.
func (t *HeartbeatTask) Cancel() {
	t.once.Do(t.cancel)
	<-t.done
}

// HeartbeatScheduler starts keepalive tasks for accepted connections.
type HeartbeatScheduler struct {
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewHeartbeatScheduler creates a scheduler. timeout is how long a peer may
// stay silent before the connection is considered stale.
func NewHeartbeatScheduler(interval, timeout time.Duration, logger *slog.Logger) *HeartbeatScheduler {
	return &HeartbeatScheduler{interval: interval, timeout: timeout, logger: logger}
}

// Start launches the keepalive loop for the connection and returns its
// cancellable handle. The loop stops on its own when a send fails; the read
// loop observes the closed socket independently.
func (s *HeartbeatScheduler) Start(conn *Connection) *HeartbeatTask {
	ctx, cancel := context.WithCancel(context.Background())
	task := &HeartbeatTask{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(task.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if stale := time.Since(conn.LastHeartbeat()); stale > s.timeout {
					s.logger.Warn("closing stale connection",
						"connection_id", conn.ID,
						"last_heartbeat_age", stale,
					)
					conn.Close()
					return
				}
				if err := conn.WriteFrame(pingFrame()); err != nil {
					s.logger.Debug("heartbeat send failed, stopping task",
						"connection_id", conn.ID,
						"error", err,
					)
					return
				}
			}
		}
	}()

	return task
}
