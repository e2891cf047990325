// ABOUTME: Typing indicator that repeats while an agent call runs
// ABOUTME: The returned stop function cancels the loop and waits for it to exit

package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTypingInterval is how often the indicator is refreshed.
const DefaultTypingInterval = 4 * time.Second

// StartTyping sends a typing indicator to chatID now and every interval
// until stop is called or ctx ends. A failed send ends the loop. stop is
// safe to call more than once and returns only after the loop has exited.
func StartTyping(ctx context.Context, t Transport, chatID string, interval time.Duration, logger *slog.Logger) (stop func()) {
	if interval <= 0 {
		interval = DefaultTypingInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			// Bound each send so a hung request cannot outlive the indicator.
			sendCtx, sendCancel := context.WithTimeout(ctx, interval)
			err := t.SendTyping(sendCtx, chatID)
			sendCancel()
			if err != nil {
				if ctx.Err() == nil {
					logger.Debug("typing indicator stopped", "chat_id", chatID, "error", err)
				}
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
