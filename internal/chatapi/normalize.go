package chatapi

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

var (
	userMentionRe    = regexp.MustCompile(`<@([A-Z0-9]+)>`)
	channelMentionRe = regexp.MustCompile(`<#([A-Z0-9]+)\|([^>]*)>`)
	linkRe           = regexp.MustCompile(`<(https?://[^|>]+)(?:\|([^>]*))?>`)
)

// NormalizeText applies the text-normalization rules of spec §4.2: user
// mentions resolve to @display_name via the user cache, channel mentions to
// #name, links unwrap to their link text when present, control characters
// are stripped, and whitespace is collapsed. The result is what both the
// embedding text and the metadata excerpt see.
func (c *Client) NormalizeText(ctx context.Context, text string) string {
	text = userMentionRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := userMentionRe.FindStringSubmatch(m)
		uid := sub[1]
		u, err := c.GetUser(ctx, uid)
		if err != nil {
			return "@" + uid
		}
		return "@" + u.DisplayName
	})
	text = channelMentionRe.ReplaceAllString(text, "#$2")
	text = linkRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := linkRe.FindStringSubmatch(m)
		url, label := sub[1], sub[2]
		if label != "" {
			return label
		}
		return url
	})
	text = stripControl(text)
	return collapseWhitespace(text)
}

func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var whitespaceRunRe = regexp.MustCompile(`[ \t]+`)

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimSpace(whitespaceRunRe.ReplaceAllString(ln, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
