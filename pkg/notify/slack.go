// Package notify sends run terminal-state notifications to Slack. The
// run manager calls it directly with a terminal event since it already
// holds everything needed in memory — no pending-notification row to fetch.
package notify

import (
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/replicatedhq/chartsmith/pkg/config"
	"github.com/replicatedhq/chartsmith/pkg/domain"
	"github.com/replicatedhq/chartsmith/pkg/logger"
)

type Sink struct {
	webhookURL string
}

func New(cfg config.Config) *Sink {
	return &Sink{webhookURL: cfg.SlackWebhookURL}
}

// NotifyTerminal posts a one-line summary when a run reaches a terminal
// status. A missing webhook URL is a silent no-op — Slack notification is
// an operational nicety, never load-bearing for run completion.
func (s *Sink) NotifyTerminal(run domain.Run) {
	if s.webhookURL == "" {
		return
	}

	color := "good"
	text := fmt.Sprintf("run `%s` (%s/%s) completed", run.ID, run.Mode, run.Depth)
	switch run.Status {
	case domain.StatusFailed:
		color = "danger"
		text = fmt.Sprintf("run `%s` (%s/%s) failed: %s", run.ID, run.Mode, run.Depth, run.ErrorMessage)
	case domain.StatusCancelled:
		color = "warning"
		text = fmt.Sprintf("run `%s` (%s/%s) was cancelled", run.ID, run.Mode, run.Depth)
	}

	msg := slack.WebhookMessage{
		Attachments: []slack.Attachment{
			{Color: color, Text: text, Footer: "agentic orchestration engine"},
		},
	}

	if err := slack.PostWebhook(s.webhookURL, &msg); err != nil {
		logger.Warn("slack terminal notification failed", zap.String("runId", run.ID))
	}
}
