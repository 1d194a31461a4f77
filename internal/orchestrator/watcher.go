package orchestrator

import (
	"context"
	"time"
)

// expiryWatcher polls the provider's branch list, records observed states,
// and warns about branches approaching their TTL deadline. The provider
// enforces expiry; the watcher only makes it visible ahead of time.
type expiryWatcher struct {
	orc      *Orchestrator
	interval time.Duration
	warn     time.Duration
	warned   map[string]bool
}

// StartExpiryWatcher runs the watcher until the context is canceled.
func StartExpiryWatcher(ctx context.Context, orc *Orchestrator) {
	w := &expiryWatcher{
		orc:      orc,
		interval: orc.cfg.PollInterval,
		warn:     orc.cfg.ExpiryWarn,
		warned:   make(map[string]bool),
	}
	go w.run(ctx)
}

func (w *expiryWatcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.syncOnce(ctx)
		}
	}
}

func (w *expiryWatcher) syncOnce(ctx context.Context) {
	branches, err := w.orc.client.ListBranches(ctx, w.orc.cfg.ProjectID)
	if err != nil {
		w.orc.log.Warn("expiry watcher list failed", "error", err)
		return
	}

	now := w.orc.now()
	for _, branch := range branches {
		w.orc.observe(branch)
		if branch.State.Terminal() {
			delete(w.warned, branch.Name)
			continue
		}
		if branch.ExpiresWithin(w.warn, now) && !w.warned[branch.Name] {
			w.warned[branch.Name] = true
			w.orc.log.Warn("branch expiring soon",
				"branch", branch.Name, "expires_at", branch.ExpiresAt)
		}
	}
}
