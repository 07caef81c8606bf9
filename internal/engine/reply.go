package engine

import (
	"context"
	"fmt"
	"strings"
)

// HandleReply routes an inbound household message to whichever handler it
// belongs to: an undo request, the autonomous-mode switch, an outstanding
// graduation proposal, or the approval protocol.
func (e *Engine) HandleReply(ctx context.Context, text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	if rest, ok := strings.CutPrefix(lower, "undo "); ok {
		transactionID := strings.TrimSpace(trimmed[len(trimmed)-len(rest):])
		if err := e.Undo(ctx, transactionID); err != nil {
			return "", err
		}
		response := fmt.Sprintf("↩️ Undid %s. It'll be looked at fresh on the next sync.", transactionID)
		if _, err := e.messenger.Send(ctx, response); err != nil {
			e.logger.Warn("failed to send undo confirmation", "error", err)
		}
		return response, nil
	}

	if lower == "autonomous off" || lower == "autonomous stop" {
		if err := e.graduation.Disable(ctx); err != nil {
			return "", err
		}
		response := "🛑 Autonomous mode is off. I'll ask before applying categorizations again."
		if _, err := e.messenger.Send(ctx, response); err != nil {
			e.logger.Warn("failed to send confirmation", "error", err)
		}
		return response, nil
	}

	// A bare affirmative belongs to an outstanding graduation proposal when
	// one exists; ordinal replies fall through to the approval protocol.
	if response, handled, err := e.graduation.HandleReply(ctx, text); err != nil {
		return "", err
	} else if handled {
		return response, nil
	}

	return e.protocol.HandleReply(ctx, text)
}
