// Package graduate decides when the engine has earned autonomous mode and
// runs the one-time proposal conversation.
package graduate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quillon/receiptwise/internal/approve"
	"github.com/quillon/receiptwise/internal/service"
)

// Graduation gates. All three must hold before a proposal goes out.
const (
	MinTrackRecord    = 14 * 24 * time.Hour
	MinSuggestions    = 10
	MinAcceptanceRate = 0.8
)

// Controller tracks the engine's track record and proposes autonomous mode
// exactly once when it is earned. Autonomous mode only ever turns on through
// an explicit affirmative reply.
type Controller struct {
	storage   service.Storage
	messenger service.Messenger
	logger    *slog.Logger
	now       func() time.Time
}

// NewController creates a graduation controller.
func NewController(storage service.Storage, messenger service.Messenger, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		storage:   storage,
		messenger: messenger,
		logger:    logger,
		now:       time.Now,
	}
}

// MaybePropose sends the graduation proposal if every gate is met and no
// proposal has gone out before. It reports whether a proposal was sent.
func (c *Controller) MaybePropose(ctx context.Context) (bool, error) {
	cfg, err := c.storage.GetSyncConfig(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load sync config: %w", err)
	}

	if cfg.Autonomous || cfg.GraduationProposed {
		return false, nil
	}
	if cfg.FirstSuggestionAt.IsZero() || c.now().Sub(cfg.FirstSuggestionAt) < MinTrackRecord {
		return false, nil
	}
	if cfg.TotalSuggestions < MinSuggestions {
		return false, nil
	}
	if cfg.AcceptanceRate() < MinAcceptanceRate {
		return false, nil
	}

	if _, err := c.messenger.Send(ctx, approve.FormatGraduationProposal(cfg)); err != nil {
		return false, fmt.Errorf("failed to send graduation proposal: %w", err)
	}

	// One shot: even a declined or ignored proposal is never repeated.
	cfg.GraduationProposed = true
	if err := c.storage.SaveSyncConfig(ctx, cfg); err != nil {
		return false, fmt.Errorf("failed to record graduation proposal: %w", err)
	}

	c.logger.Info("graduation proposed",
		"total_suggestions", cfg.TotalSuggestions,
		"acceptance_rate", cfg.AcceptanceRate())

	return true, nil
}

// affirmatives are the replies treated as explicit consent to the proposal.
var affirmatives = map[string]bool{
	"yes": true, "y": true, "yes please": true, "sure": true, "ok": true,
	"okay": true, "go ahead": true, "do it": true, "enable": true, "👍": true,
}

// HandleReply interprets a reply against an outstanding graduation proposal.
// It reports whether the reply was consumed; ordinal replies and unrelated
// chatter are left for the approval protocol.
func (c *Controller) HandleReply(ctx context.Context, text string) (string, bool, error) {
	cfg, err := c.storage.GetSyncConfig(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to load sync config: %w", err)
	}

	if !cfg.GraduationProposed || cfg.Autonomous {
		return "", false, nil
	}

	normalized := strings.ToLower(strings.TrimSpace(strings.TrimRight(text, ".!")))
	if !affirmatives[normalized] {
		return "", false, nil
	}

	cfg.Autonomous = true
	if err := c.storage.SaveSyncConfig(ctx, cfg); err != nil {
		return "", false, fmt.Errorf("failed to enable autonomous mode: %w", err)
	}

	c.logger.Info("autonomous mode enabled")

	response := "🎓 Autonomous mode is on. I'll apply confident categorizations myself and send you a summary. Say \"autonomous off\" anytime to stop."
	if _, err := c.messenger.Send(ctx, response); err != nil {
		c.logger.Warn("failed to send graduation confirmation", "error", err)
	}
	return response, true, nil
}

// Disable turns autonomous mode off. The proposal stays consumed, so the
// engine never nags about re-enabling; the household can opt back in manually.
func (c *Controller) Disable(ctx context.Context) error {
	cfg, err := c.storage.GetSyncConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync config: %w", err)
	}
	if !cfg.Autonomous {
		return nil
	}
	cfg.Autonomous = false
	if err := c.storage.SaveSyncConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to disable autonomous mode: %w", err)
	}
	c.logger.Info("autonomous mode disabled")
	return nil
}

// SetClock overrides the controller's time source. Tests only.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}
