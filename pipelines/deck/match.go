package deck

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"papercast/common"
)

// MatcherConfig tunes the lexical figure-to-slide matcher. The defaults were
// picked against a handful of real papers; threshold and bonus are exposed in
// the config file for tuning without a rebuild.
type MatcherConfig struct {
	JaccardWeight  float64
	CoverageWeight float64
	MentionBonus   float64
	Threshold      float64
}

func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		JaccardWeight:  0.6,
		CoverageWeight: 0.4,
		MentionBonus:   0.5,
		Threshold:      0.1,
	}
}

// Words too common to carry any signal about which slide a figure belongs to.
var matchStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "this": {}, "that": {},
	"from": {}, "are": {}, "was": {}, "were": {}, "have": {}, "has": {},
	"can": {}, "our": {}, "its": {}, "their": {}, "which": {}, "these": {},
	"figure": {}, "fig": {}, "shows": {}, "shown": {}, "using": {},
	"based": {}, "results": {}, "into": {}, "over": {}, "when": {},
}

var matchTokenRe = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lowercases the text, strips punctuation, and drops stopwords and
// tokens of length <= 2.
func tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range matchTokenRe.FindAllString(strings.ToLower(text), -1) {
		if len(tok) <= 2 {
			continue
		}
		if _, stop := matchStopwords[tok]; stop {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

func mentionPattern(figureNumber int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?i)\b(figure|fig\.?)\s+%d\b`, figureNumber))
}

// score computes the lexical affinity between one slide and one figure.
func (m MatcherConfig) score(slideText string, slideWords map[string]struct{}, fig common.Figure, figWords map[string]struct{}) float64 {
	inter := 0
	for w := range figWords {
		if _, ok := slideWords[w]; ok {
			inter++
		}
	}
	union := len(figWords) + len(slideWords) - inter

	var score float64
	if union > 0 {
		score += m.JaccardWeight * float64(inter) / float64(union)
	}
	if len(slideWords) > 0 {
		score += m.CoverageWeight * float64(inter) / float64(len(slideWords))
	}
	if fig.Number > 0 && mentionPattern(fig.Number).MatchString(slideText) {
		score += m.MentionBonus
	}
	return score
}

// MatchFiguresToSlides gives each slide at most one figure: the figure whose
// title+caption word bag scores highest against the slide's title, content,
// and narration, provided the score clears the threshold. Assignment is not
// exclusive, so a strongly captioned figure may appear on several slides.
// Assigned figures are appended to the slide content as markdown image
// references. The plan is modified in place and returned.
func MatchFiguresToSlides(plan common.SlidePlan, figures common.FigureSet, cfg MatcherConfig, logger *logrus.Logger) common.SlidePlan {
	if len(figures) == 0 || len(plan) == 0 {
		return plan
	}

	figWords := make([]map[string]struct{}, len(figures))
	for i, f := range figures {
		figWords[i] = tokenize(f.Title + " " + f.Caption)
	}

	for si := range plan {
		slideText := plan[si].Title + " " + plan[si].Content + " " + plan[si].Narration
		slideWords := tokenize(slideText)

		best := -1
		bestScore := 0.0
		for fi, f := range figures {
			score := cfg.score(slideText, slideWords, f, figWords[fi])
			if score > bestScore {
				best = fi
				bestScore = score
			}
		}
		if best < 0 || bestScore <= cfg.Threshold {
			continue
		}

		fig := figures[best]
		title := fig.Title
		if title == "" {
			title = fmt.Sprintf("Figure %d", fig.Number)
		}
		plan[si].Content = strings.TrimRight(plan[si].Content, "\n") +
			fmt.Sprintf("\n\n![%s](%s)", title, fig.ImagePath)

		if logger != nil {
			logger.WithFields(logrus.Fields{
				"figure": fig.Number,
				"slide":  plan[si].Number,
				"score":  fmt.Sprintf("%.3f", bestScore),
			}).Info("assigned figure to slide")
		}
	}
	return plan
}

// PlanReferencesFigures reports whether any slide already embeds an image,
// in which case the model placed figures itself and matching is skipped.
func PlanReferencesFigures(plan common.SlidePlan) bool {
	for _, s := range plan {
		if strings.Contains(s.Content, "![") {
			return true
		}
	}
	return false
}
