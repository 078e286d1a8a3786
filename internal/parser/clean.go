package parser

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	urlRe        = regexp.MustCompile(`https?://\S+|www\.\S+`)
	emailRe      = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	spaceRe      = regexp.MustCompile(`[^\S\n]+`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// Clean normalises extracted text before chunking: NFC form, no URLs or
// e-mail addresses, single spaces, at most one blank line between paragraphs.
func Clean(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = urlRe.ReplaceAllString(s, "")
	s = emailRe.ReplaceAllString(s, "")
	s = spaceRe.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
