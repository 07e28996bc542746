package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/WessleyAI/regcheck/engine/domain"
)

var (
	disallowedRe = regexp.MustCompile(`[^\p{L}\p{N}_\s.,;:!?()\-]`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// Clean strips characters outside the allow-list (letters, digits,
// underscore and .,;:!?()-), collapses whitespace runs to one space and trims.
func Clean(text string) string {
	text = disallowedRe.ReplaceAllString(text, "")
	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Assemble cleans each page and joins them in page order, each prefixed by
// its [PAGE n] marker. Pages that clean to nothing are dropped.
func Assemble(pages domain.PageText) string {
	parts := make([]string, 0, len(pages))
	for _, n := range pages.Pages() {
		text := Clean(pages[n])
		if text == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[PAGE %d]\n%s", n, text))
	}
	return strings.Join(parts, "\n\n")
}
