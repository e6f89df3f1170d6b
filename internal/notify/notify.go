// Package notify posts analysis lifecycle events to a Slack channel.
// Notifications are best effort: failures are logged, never surfaced to
// the upload pipeline.
package notify

import (
	"fmt"
	"log"

	"github.com/slack-go/slack"

	"turnoutd/internal/analyze"
	"turnoutd/internal/config"
)

type slackPoster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier sends completion and failure messages. A nil-api Notifier is
// valid and does nothing, so callers never branch on configuration.
type Notifier struct {
	api     slackPoster
	channel string
}

func New(cfg config.Config) *Notifier {
	if !cfg.SlackConfigured() {
		log.Printf("notify slack disabled: token or channel not configured")
		return &Notifier{}
	}
	return &Notifier{
		api:     slack.New(cfg.SlackBotToken),
		channel: cfg.SlackChannelID,
	}
}

// AnalysisCompleted posts a short summary of a finished analysis.
func (n *Notifier) AnalysisCompleted(id string, res *analyze.Result) {
	if n.api == nil {
		return
	}

	turnout := "undefined"
	if res.TurnoutRate.Valid {
		turnout = fmt.Sprintf("%.1f%%", res.TurnoutRate.Value*100)
	}
	text := fmt.Sprintf(":ballot_box_with_ballot: Analysis complete: *%s*\n"+
		"Precincts: %d | Registered: %.0f | Voted: %.0f | Turnout: %s\n"+
		"Analysis ID: `%s`",
		res.Dataset, res.TotalPrecincts, res.TotalRegistered, res.TotalVoted, turnout, id)

	_, _, err := n.api.PostMessage(n.channel,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		log.Printf("notify completion error analysis=%s: %v", id, err)
	}
}

// AnalysisFailed posts the failure reason.
func (n *Notifier) AnalysisFailed(id, filename, reason string) {
	if n.api == nil {
		return
	}

	text := fmt.Sprintf(":warning: Analysis failed for *%s*\nReason: %s\nAnalysis ID: `%s`",
		filename, reason, id)

	_, _, err := n.api.PostMessage(n.channel,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		log.Printf("notify failure error analysis=%s: %v", id, err)
	}
}
