// Package slack announces created response plans on a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/haven/internal/alert"
	"github.com/linnemanlabs/haven/internal/plan"
)

const (
	maxTasksLen = 3000
	httpTimeout = 10 * time.Second
)

// Notifier posts plan summaries to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Notify implements plan.Notifier. If no webhook URL is configured, it
// returns nil immediately.
func (n *Notifier) Notify(ctx context.Context, al *alert.Alert, p *plan.Plan) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(al, p))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "plan posted to slack", "plan_id", p.ID, "event_id", p.EventID)
	return nil
}

func buildMessage(al *alert.Alert, p *plan.Plan) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(al, p),
			{"type": "divider"},
			fieldsBlock(al, p),
			{"type": "divider"},
			tasksBlock(p),
			{"type": "divider"},
			contextBlock(p),
		},
	}
}

func headerBlock(al *alert.Alert, p *plan.Plan) map[string]any {
	text := fmt.Sprintf("%s Response Plan: %s in %s", riskEmoji(p.Risk), orDash(al.Type), orDash(al.Location))

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(al *alert.Alert, p *plan.Plan) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Risk:* %.2f", p.Risk),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Alert:* %s", al.ID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Source:* %s", orDash(al.Source)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Confidence:* %.2f", al.Confidence),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Volunteers:* %s", volunteersText(p.Assignment)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Shelter:* %s", shelterText(p.Assignment)),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func tasksBlock(p *plan.Plan) map[string]any {
	var b strings.Builder
	for i, t := range p.Tasks {
		fmt.Fprintf(&b, "%d. *%s*", i+1, t.Task)
		if t.Details != "" {
			b.WriteString(" ")
			b.WriteString(t.Details)
		}
		b.WriteString("\n")
	}
	text := truncate(strings.TrimRight(b.String(), "\n"), maxTasksLen)
	if text == "" {
		text = "_No tasks._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Tasks*\n\n%s", text),
		},
	}
}

func contextBlock(p *plan.Plan) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("haven • plan %s • %s", p.ID, p.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func volunteersText(a *plan.Assignment) string {
	switch {
	case a == nil:
		return "none"
	case a.Status == plan.AssignmentStatusError:
		return fmt.Sprintf("allocation failed (%d needed)", a.Required)
	case a.Required > 0:
		return fmt.Sprintf("%d / %d", a.Assigned, a.Required)
	default:
		return fmt.Sprintf("%d", a.Assigned)
	}
}

func shelterText(a *plan.Assignment) string {
	if a == nil || a.RecommendedShelter == nil {
		return "none"
	}
	s := a.RecommendedShelter.Name
	if a.Route != nil {
		s += fmt.Sprintf(" (%.1f km, %.0f min)", a.Route.DistanceMeters/1000, a.Route.DurationSeconds/60)
	}
	return s
}

func riskEmoji(risk float64) string {
	switch {
	case risk > 0.8:
		return "\U0001f534" // red circle
	case risk > 0.5:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate caps s at limit bytes, cutting on a rune boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
