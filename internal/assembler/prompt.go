package assembler

import "strings"

// Section headers used by BuildPrompt.
const (
	HeaderUser    = "## Speaker"
	HeaderRecent  = "## Recent conversation"
	HeaderSimilar = "## Related past messages"
	Instruction   = "Using the information above, respond to the following message:"
)

// BuildPrompt renders c in fixed order: persona, speaker, recent
// conversation, related messages, then the user message. A section whose
// input is empty is omitted together with its header.
func BuildPrompt(c *Context, persona, userMessage string) string {
	var sections []string

	if p := strings.TrimSpace(persona); p != "" {
		sections = append(sections, p)
	}

	if c != nil && c.User != nil {
		if name := c.User.Name(); name != "" {
			sections = append(sections, HeaderUser+"\n"+name)
		}
	}

	if c != nil && len(c.Recent) > 0 {
		var b strings.Builder
		b.WriteString(HeaderRecent)
		for _, m := range c.Recent {
			b.WriteString("\n")
			b.WriteString(m.Username)
			b.WriteString(": ")
			b.WriteString(m.Content)
		}
		sections = append(sections, b.String())
	}

	if c != nil && len(c.Similar) > 0 {
		var b strings.Builder
		b.WriteString(HeaderSimilar)
		for _, m := range c.Similar {
			b.WriteString("\n- ")
			b.WriteString(m.Username)
			b.WriteString(": ")
			b.WriteString(m.Content)
		}
		sections = append(sections, b.String())
	}

	if userMessage != "" {
		sections = append(sections, Instruction+"\n"+userMessage)
	}

	return strings.Join(sections, "\n\n")
}
