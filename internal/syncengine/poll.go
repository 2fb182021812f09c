package syncengine

import (
	"context"
	"time"
)

// poller refreshes one conversation's window on a fixed interval until it
// is stopped. The engine owns at most one.
type poller struct {
	conversationID string
	cancel         context.CancelFunc
}

func (e *Engine) startPollLocked(id string) {
	if e.cfg.PollInterval < 0 || e.closed {
		return
	}
	ctx, cancel := context.WithCancel(e.bg)
	e.poll = &poller{conversationID: id, cancel: cancel}
	e.wg.Add(1)
	go e.runPoll(ctx, id)
}

// stopPollLocked cancels the current poller without waiting for it; a
// refresh already in flight is discarded by the active-conversation check.
func (e *Engine) stopPollLocked() {
	if e.poll == nil {
		return
	}
	e.poll.cancel()
	e.poll = nil
}

func (e *Engine) runPoll(ctx context.Context, id string) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.gw.IsConnected() {
				continue
			}
			if err := e.requestMessages(ctx, id); err != nil && ctx.Err() == nil {
				e.log.Debug().Err(err).Str("conversation", id).Msg("poll failed")
			}
		}
	}
}

// PollingConversation returns the conversation currently being polled, or ""
// when polling is stopped.
func (e *Engine) PollingConversation() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.poll == nil {
		return ""
	}
	return e.poll.conversationID
}
