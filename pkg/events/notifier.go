package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/iius-rcox/safetyamp-sync/internal/model"
)

// ErrorNotifier keeps an append-only error ledger and delivers a
// rate-limited hourly digest to Slack: at most one notification per
// hour, and only when at least one new error has been recorded since
// the last send.
type ErrorNotifier struct {
	mu           sync.Mutex
	logger       *slog.Logger
	logPath      string
	lastSentPath string
	channel      string
	client       *slack.Client
	errors       []model.ErrorEvent
	lastSentAt   time.Time
	cooldown     time.Duration
}

// NewErrorNotifier creates an error notifier persisting its ledger
// under dir. A blank slackToken disables Slack delivery entirely —
// errors still accumulate and Since() remains usable, but
// SendHourlyNotification is a no-op.
func NewErrorNotifier(dir, slackToken, channel string, logger *slog.Logger) (*ErrorNotifier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating error notifier directory: %w", err)
	}
	n := &ErrorNotifier{
		logger:       logger,
		logPath:      filepath.Join(dir, "error_log.json"),
		lastSentPath: filepath.Join(dir, "last_notification.json"),
		channel:      channel,
		cooldown:     time.Hour,
	}
	if slackToken != "" {
		n.client = slack.New(slackToken)
	}
	n.load()
	return n, nil
}

func (n *ErrorNotifier) load() {
	if raw, err := os.ReadFile(n.logPath); err == nil {
		_ = json.Unmarshal(raw, &n.errors)
	}
	if raw, err := os.ReadFile(n.lastSentPath); err == nil {
		var t time.Time
		if json.Unmarshal(raw, &t) == nil {
			n.lastSentAt = t
		}
	}
}

func (n *ErrorNotifier) persist() {
	if raw, err := json.MarshalIndent(n.errors, "", "  "); err == nil {
		if err := os.WriteFile(n.logPath, raw, 0o644); err != nil {
			n.logger.Error("failed to persist error log", "error", err)
		}
	}
}

// RecordError appends an error event to the ledger.
func (n *ErrorNotifier) RecordError(kind, entityType, entityID, message string, details map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.errors = append(n.errors, model.ErrorEvent{
		Timestamp:  time.Now().UTC(),
		Kind:       kind,
		EntityType: entityType,
		EntityID:   entityID,
		Message:    message,
		Details:    details,
		Source:     "sync",
	})
	n.persist()
}

// Since returns errors recorded within the last d duration.
func (n *ErrorNotifier) Since(d time.Duration) []model.ErrorEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	cutoff := time.Now().UTC().Add(-d)
	var out []model.ErrorEvent
	for _, e := range n.errors {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// SendHourlyNotification sends a Slack digest of new errors, gated on
// a one-hour cooldown and at least one error recorded since the last
// send. Returns true if a notification was actually sent.
func (n *ErrorNotifier) SendHourlyNotification(ctx context.Context) (bool, error) {
	n.mu.Lock()
	sinceLast := n.errorsSinceLocked(n.lastSentAt)
	onCooldown := time.Since(n.lastSentAt) < n.cooldown
	n.mu.Unlock()

	if onCooldown || len(sinceLast) == 0 {
		return false, nil
	}
	if n.client == nil {
		n.logger.Debug("slack delivery disabled, skipping error digest", "pending_errors", len(sinceLast))
		return false, nil
	}

	text := fmt.Sprintf(":warning: %d sync error(s) in the last hour", len(sinceLast))
	var blocks []slack.Block
	blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil))
	for i, e := range sinceLast {
		if i >= 10 {
			blocks = append(blocks, slack.NewSectionBlock(
				slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("_…and %d more_", len(sinceLast)-10), false, false), nil, nil))
			break
		}
		line := fmt.Sprintf("*%s* `%s/%s`: %s", e.Kind, e.EntityType, e.EntityID, e.Message)
		blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, line, false, false), nil, nil))
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionBlocks(blocks...), slack.MsgOptionText(text, false))
	if err != nil {
		return false, fmt.Errorf("posting error digest to slack: %w", err)
	}

	n.mu.Lock()
	n.lastSentAt = time.Now().UTC()
	if raw, merr := json.Marshal(n.lastSentAt); merr == nil {
		_ = os.WriteFile(n.lastSentPath, raw, 0o644)
	}
	n.mu.Unlock()

	return true, nil
}

func (n *ErrorNotifier) errorsSinceLocked(since time.Time) []model.ErrorEvent {
	var out []model.ErrorEvent
	for _, e := range n.errors {
		if e.Timestamp.After(since) {
			out = append(out, e)
		}
	}
	return out
}
