package common

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Slide is one entry of the slide plan. Number defines presentation order
// and is the key every downstream artifact is named by; array position in a
// plan is never trusted.
type Slide struct {
	Number    int    `json:"slide_number"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Narration string `json:"narration"`
}

// SlidePlan is the ordered slide deck produced by the planning stage. Once
// written to disk it is the authoritative record; later stages read it but
// never mutate the persisted file.
type SlidePlan []Slide

// Sorted returns a copy ordered by slide number. Slides without a number
// (Number <= 0) sort last, in their original relative order.
func (p SlidePlan) Sorted() SlidePlan {
	out := append(SlidePlan(nil), p...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Number, out[j].Number
		if a <= 0 {
			return false
		}
		if b <= 0 {
			return true
		}
		return a < b
	})
	return out
}

// MaxNumber returns the highest slide number in the plan.
func (p SlidePlan) MaxNumber() int {
	max := 0
	for _, s := range p {
		if s.Number > max {
			max = s.Number
		}
	}
	return max
}

// Save writes the plan as indented JSON.
func (p SlidePlan) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding slide plan: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadSlidePlan reads a previously persisted plan.
func LoadSlidePlan(path string) (SlidePlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading slide plan: %w", err)
	}
	return ParseSlidePlan(data)
}

// Upstream models are inconsistent about key names across revisions; the
// parser normalizes the known variants at the boundary and rejects anything
// else instead of silently dropping fields.
var slideKeyVariants = map[string]string{
	"slide_number": "number",
	"slide number": "number",
	"slidenumber":  "number",
	"number":       "number",
	"title":        "title",
	"content":      "content",
	"audio":        "narration",
	"narration":    "narration",
}

// ParseSlidePlan decodes a plan payload. It accepts either a bare JSON array
// of slide objects or an object wrapping the array under a "slides" key.
func ParseSlidePlan(data []byte) (SlidePlan, error) {
	var wrapper struct {
		Slides []json.RawMessage `json:"slides"`
	}
	var rawSlides []json.RawMessage

	if err := json.Unmarshal(data, &rawSlides); err != nil {
		if err := json.Unmarshal(data, &wrapper); err != nil || wrapper.Slides == nil {
			return nil, fmt.Errorf("slide plan is neither a JSON array nor a {\"slides\": [...]} object")
		}
		rawSlides = wrapper.Slides
	}

	plan := make(SlidePlan, 0, len(rawSlides))
	seen := make(map[int]bool)

	for i, raw := range rawSlides {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("slide %d: not a JSON object: %w", i+1, err)
		}

		var slide Slide
		for key, val := range fields {
			canon, ok := slideKeyVariants[strings.ToLower(key)]
			if !ok {
				return nil, fmt.Errorf("slide %d: unknown key %q", i+1, key)
			}
			switch canon {
			case "number":
				var n int
				if err := json.Unmarshal(val, &n); err != nil {
					// Some models emit the number as a string.
					var s string
					if err2 := json.Unmarshal(val, &s); err2 != nil {
						return nil, fmt.Errorf("slide %d: invalid slide number: %w", i+1, err)
					}
					if _, err2 := fmt.Sscanf(strings.TrimSpace(s), "%d", &n); err2 != nil {
						return nil, fmt.Errorf("slide %d: invalid slide number %q", i+1, s)
					}
				}
				if n < 0 {
					return nil, fmt.Errorf("slide %d: slide number must be positive, got %d", i+1, n)
				}
				slide.Number = n
			case "title":
				if err := json.Unmarshal(val, &slide.Title); err != nil {
					return nil, fmt.Errorf("slide %d: invalid title: %w", i+1, err)
				}
			case "content":
				s, err := decodeTextOrList(val)
				if err != nil {
					return nil, fmt.Errorf("slide %d: invalid content: %w", i+1, err)
				}
				slide.Content = s
			case "narration":
				s, err := decodeTextOrList(val)
				if err != nil {
					return nil, fmt.Errorf("slide %d: invalid narration: %w", i+1, err)
				}
				slide.Narration = s
			}
		}

		if slide.Number > 0 {
			if seen[slide.Number] {
				return nil, fmt.Errorf("slide %d: duplicate slide number %d", i+1, slide.Number)
			}
			seen[slide.Number] = true
		}
		plan = append(plan, slide)
	}

	return plan, nil
}

// decodeTextOrList accepts either a string or a list of strings (some
// models return content as bullet arrays) and flattens to one string.
func decodeTextOrList(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", err
	}
	return strings.Join(list, "\n"), nil
}

// Figure is one extracted figure: cropped image on disk plus the title and
// caption inferred from the surrounding text.
type Figure struct {
	Number    int    `json:"figure_number"`
	Title     string `json:"title"`
	Caption   string `json:"caption"`
	ImagePath string `json:"image_path"`
}

// FigureSet is the ordered figure list owned by the extraction stage.
// Figure numbers are 1-based in extraction order. Later stages reference
// the images but never move or rewrite them.
type FigureSet []Figure

// Validate checks that every referenced image exists. A stale path is a
// data-integrity error, not something to ignore silently.
func (f FigureSet) Validate() error {
	for _, fig := range f {
		if fig.Number <= 0 {
			return fmt.Errorf("figure %q: number must be 1-based, got %d", fig.Title, fig.Number)
		}
		if _, err := os.Stat(fig.ImagePath); err != nil {
			return fmt.Errorf("figure %d: image missing at %s: %w", fig.Number, fig.ImagePath, err)
		}
	}
	return nil
}

// Save writes figure metadata as indented JSON.
func (f FigureSet) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding figure set: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadFigureSet reads persisted figure metadata.
func LoadFigureSet(path string) (FigureSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading figure set: %w", err)
	}
	var f FigureSet
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding figure set: %w", err)
	}
	return f, nil
}
