package notify

import (
	"testing"

	"github.com/replicatedhq/chartsmith/pkg/config"
	"github.com/replicatedhq/chartsmith/pkg/domain"
)

func TestNotifyTerminalNoWebhookIsNoOp(t *testing.T) {
	s := New(config.Config{})
	// Must not panic or attempt a network call when no webhook is configured.
	s.NotifyTerminal(domain.Run{ID: "run-1", Status: domain.StatusCompleted})
}
