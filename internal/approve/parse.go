package approve

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnparsedReply indicates free text the protocol cannot map to an accept,
// correction, or skip. The caller re-prompts rather than guesses.
var ErrUnparsedReply = errors.New("could not interpret reply")

// Action is the interpreted intent of a household reply.
type Action int

const (
	// ActionAccept applies the split exactly as suggested.
	ActionAccept Action = iota
	// ActionCorrect applies the split with the named category change.
	ActionCorrect
	// ActionSkip leaves the memo enrichment but not the categorization.
	ActionSkip
)

// Reply is one parsed household reply.
type Reply struct {
	// Text carries the correction free text for ActionCorrect.
	Text    string
	Ordinal int
	Action  Action
}

var replyPattern = regexp.MustCompile(`^\s*(\d+)[\s.:)\-]*(.*)$`)

var acceptWords = map[string]bool{
	"yes": true, "y": true, "ok": true, "okay": true, "sure": true,
	"accept": true, "approve": true, "good": true, "👍": true, "✅": true,
}

var skipWords = map[string]bool{
	"skip": true, "no": true, "pass": true, "ignore": true, "later": true,
}

// ParseReply interprets a free-form reply to a pending suggestion. The
// expected shapes are "<n> yes", "<n> skip", and "<n> adjust <free text>",
// with some tolerance for phrasing.
func ParseReply(text string) (Reply, error) {
	matches := replyPattern.FindStringSubmatch(strings.TrimSpace(text))
	if matches == nil {
		return Reply{}, ErrUnparsedReply
	}

	ordinal, err := strconv.Atoi(matches[1])
	if err != nil || ordinal < 1 {
		return Reply{}, ErrUnparsedReply
	}

	rest := strings.TrimSpace(matches[2])
	lower := strings.ToLower(rest)

	switch {
	case acceptWords[lower]:
		return Reply{Ordinal: ordinal, Action: ActionAccept}, nil
	case skipWords[lower]:
		return Reply{Ordinal: ordinal, Action: ActionSkip}, nil
	case lower == "":
		return Reply{}, ErrUnparsedReply
	}

	// Everything else is a correction. Strip a leading "adjust" plus any
	// separator punctuation so only the correction text remains.
	for _, prefix := range []string{"adjust", "change", "correct", "fix"} {
		if strings.HasPrefix(lower, prefix) {
			rest = strings.TrimSpace(rest[len(prefix):])
			rest = strings.TrimLeft(rest, "—–-:, ")
			break
		}
	}
	if rest == "" {
		return Reply{}, ErrUnparsedReply
	}

	return Reply{Ordinal: ordinal, Action: ActionCorrect, Text: rest}, nil
}

// splitCorrection separates an optional item hint from the target category in
// correction text. "coffee maker: Home" targets one item; "Home" retargets the
// whole transaction.
func splitCorrection(text string) (itemHint, category string) {
	for _, sep := range []string{":", "->", "=>"} {
		if idx := strings.Index(text, sep); idx > 0 {
			return strings.TrimSpace(text[:idx]), strings.TrimSpace(text[idx+len(sep):])
		}
	}
	return "", strings.TrimSpace(text)
}
