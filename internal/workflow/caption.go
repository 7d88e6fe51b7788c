package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"orbot/internal/types"
)

const creditsMarker = "\n\nCredits: "

var creditsLine = regexp.MustCompile(`^(.*?)\s*\(@([A-Za-z0-9_]{1,15})\)$|^@([A-Za-z0-9_]{1,15})$`)

// Caption is the editable caption of a draft. Credits are kept apart from
// the text so they can be toggled without retyping it.
type Caption struct {
	Text       string
	Credits    *types.CaptionCredits
	UseCredits bool
}

// Render returns the caption as posted.
func (c Caption) Render() string {
	text := strings.TrimSpace(c.Text)
	if !c.UseCredits || !c.Credits.Available() {
		return text
	}
	return text + creditsMarker + formatCredits(c.Credits)
}

func (c Caption) Empty() bool {
	return strings.TrimSpace(c.Text) == ""
}

func formatCredits(c *types.CaptionCredits) string {
	if c.Name == "" {
		return "@" + c.Username
	}
	return fmt.Sprintf("%s (@%s)", c.Name, c.Username)
}

// ParseCaption recovers text and credits from a posted caption.
func ParseCaption(caption string) Caption {
	idx := strings.LastIndex(caption, creditsMarker)
	if idx < 0 {
		return Caption{Text: strings.TrimSpace(caption)}
	}

	line := strings.TrimSpace(caption[idx+len(creditsMarker):])
	m := creditsLine.FindStringSubmatch(line)
	if m == nil {
		return Caption{Text: strings.TrimSpace(caption)}
	}

	credits := &types.CaptionCredits{Name: strings.TrimSpace(m[1]), Username: m[2]}
	if m[3] != "" {
		credits = &types.CaptionCredits{Username: m[3]}
	}
	return Caption{
		Text:       strings.TrimSpace(caption[:idx]),
		Credits:    credits,
		UseCredits: true,
	}
}
