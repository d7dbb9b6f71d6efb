// Package filter decides whether a chat message is stored and whether it is
// indexed for semantic recall.
//
// Evaluate is total and deterministic: every string yields a Decision and the
// same input always yields the same Decision.
package filter

import (
	"regexp"
	"strings"
	"unicode/utf16"
)

// Reason names the rule that prevented vectorization (or storage).
type Reason string

// Reasons, in evaluation order.
const (
	ReasonNone           Reason = ""
	ReasonAttachmentOnly Reason = "attachment_only"
	ReasonTooShort       Reason = "too_short"
	ReasonBotCommand     Reason = "bot_command"
	ReasonURLOnly        Reason = "url_only"
	ReasonEmojiOnly      Reason = "emoji_only"
)

// String returns the reason label, "none" for ReasonNone.
func (r Reason) String() string {
	if r == ReasonNone {
		return "none"
	}
	return string(r)
}

// Decision is the outcome of evaluating a message.
type Decision struct {
	Store     bool   `json:"should_store"`
	Vectorize bool   `json:"should_vectorize"`
	Reason    Reason `json:"reason,omitempty"`
}

const (
	// DefaultMinLength is the shortest content, in UTF-16 code units, that is kept.
	DefaultMinLength = 5

	// DefaultCommandPrefix marks bot commands.
	DefaultCommandPrefix = "!"
)

var (
	urlOnlyPattern = regexp.MustCompile(`^https?://\S+$`)

	// customEmojiPattern matches platform emoji tokens: <:name:id> or <a:name:id>.
	customEmojiPattern = regexp.MustCompile(`<a?:\w+:\d+>`)

	// unicodeEmojiPattern covers pictographs, dingbats, variation selectors,
	// joiners, keycaps and regional indicator flags.
	unicodeEmojiPattern = regexp.MustCompile(`[\x{1F300}-\x{1F9FF}]|[\x{2600}-\x{26FF}]|[\x{2700}-\x{27BF}]|[\x{FE00}-\x{FE0F}]|[\x{1F000}-\x{1FFFF}]|\x{200D}|\x{20E3}|[\x{1F1E0}-\x{1F1FF}]`)
)

// Rules holds the tunable constants of the filter.
type Rules struct {
	// MinLength is the minimum content length in UTF-16 code units.
	MinLength int

	// CommandPrefix marks bot commands. Empty disables the rule.
	CommandPrefix string
}

// DefaultRules returns the production rules.
func DefaultRules() Rules {
	return Rules{
		MinLength:     DefaultMinLength,
		CommandPrefix: DefaultCommandPrefix,
	}
}

// Evaluate applies DefaultRules.
func Evaluate(content string, hasAttachments bool) Decision {
	return DefaultRules().Evaluate(content, hasAttachments)
}

// Evaluate classifies content. The first matching rule wins, so overlapping
// categories resolve by order: a three-character URL is too short, not url only.
func (r Rules) Evaluate(content string, hasAttachments bool) Decision {
	if hasAttachments && content == "" {
		return Decision{Store: true, Vectorize: false, Reason: ReasonAttachmentOnly}
	}
	if Length(content) < r.MinLength {
		return Decision{Store: false, Vectorize: false, Reason: ReasonTooShort}
	}
	if r.isBotCommand(content) {
		return Decision{Store: true, Vectorize: false, Reason: ReasonBotCommand}
	}
	if IsURLOnly(content) {
		return Decision{Store: true, Vectorize: false, Reason: ReasonURLOnly}
	}
	if IsEmojiOnly(content) {
		return Decision{Store: true, Vectorize: false, Reason: ReasonEmojiOnly}
	}
	return Decision{Store: true, Vectorize: true, Reason: ReasonNone}
}

func (r Rules) isBotCommand(content string) bool {
	return r.CommandPrefix != "" && strings.HasPrefix(content, r.CommandPrefix)
}

// Length returns the length of s in UTF-16 code units, the unit chat
// platforms use for message length limits.
func Length(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// IsURLOnly reports whether the trimmed content is a single http(s) URL.
func IsURLOnly(content string) bool {
	return urlOnlyPattern.MatchString(strings.TrimSpace(content))
}

// IsEmojiOnly reports whether content is made only of custom emoji tokens,
// emoji code points and whitespace, and is not blank.
func IsEmojiOnly(content string) bool {
	remaining := customEmojiPattern.ReplaceAllString(content, "")
	remaining = unicodeEmojiPattern.ReplaceAllString(remaining, "")
	return strings.TrimSpace(remaining) == "" && strings.TrimSpace(content) != ""
}
