package deck

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"papercast/common"
)

// deckFrontMatter enables MathJax for papers with equations and caps image
// size so embedded figures never overflow a slide.
const deckFrontMatter = `---
marp: true
math: mathjax
paginate: true
theme: gaia
style: |
  /* Global slide tweaks */
  section {
    padding-top: 0.2em;
  }
  section h1 {
    font-size: 1.6em;
    line-height: 1.2;
  }
  /* Ensure images fit within slide without being cut */
  section img {
    max-height: 45vh;
    max-width: 80%;
    height: auto;
    object-fit: contain;
    display: block;
    margin: 1em auto;
  }

  /* When slide has an image, shrink heading and body font */
  section.has-image h1 {
    font-size: 1.2em;
  }
  section.has-image h2 {
    font-size: 1.2em;
  }
  section.has-image ul,
  section.has-image p {
    font-size: 0.8em;
  }
---`

// BuildDeck renders a slide plan as Marp markdown. Slides are ordered by
// number (non-positive numbers sort last) and joined by horizontal rules.
func BuildDeck(plan common.SlidePlan) string {
	sorted := plan.Sorted()

	sections := make([]string, 0, len(sorted))
	for _, s := range sorted {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			title = fmt.Sprintf("Slide %d", s.Number)
		}
		sections = append(sections, fmt.Sprintf("# %s\n\n%s", title, strings.TrimSpace(s.Content)))
	}

	return deckFrontMatter + "\n\n<!-- -->\n\n" + strings.Join(sections, "\n\n---\n\n")
}

// WriteDeck writes the deck markdown, creating the parent directory.
func WriteDeck(plan common.SlidePlan, path string) error {
	if len(plan) == 0 {
		return fmt.Errorf("slide plan is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating deck directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(BuildDeck(plan)), 0o644); err != nil {
		return fmt.Errorf("writing deck: %w", err)
	}
	return nil
}
