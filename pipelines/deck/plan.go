package deck

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"papercast/common"
)

// Completer is the LLM collaborator surface the planner needs.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const planSystemPrompt = `You are an AI assistant role-playing as a graduate student in a lab meeting, explaining an interesting paper to your peers.
Your tone should be conversational, insightful, and slightly informal. Refer to the paper's authors as 'the authors' or 'the paper,' not 'we'.

Your task is to create a JSON object that represents the slide deck. The JSON object should be a list of slides.
Each slide should have a "slide_number", a "title", a "content" field, and a "narration" field.
The "content" field should contain the text for the slide body as a single string, formatted in Markdown.
The "narration" field should contain the narration script for the slide, matching your persona.

IMPORTANT: The output MUST be a single, valid JSON object. Ensure that all strings are properly escaped. For example, use \n for newlines within the content and narration strings, and escape any double quotes. Do not add any extra text or formatting outside of the JSON object itself. The entire response should be parseable by a standard JSON parser.`

// PlanStage turns extracted text into a SlidePlan via an LLM collaborator,
// chunking long documents and repairing the collaborator's JSON.
type PlanStage struct {
	LLM             Completer
	ChunkCharBudget int
	Matcher         MatcherConfig
	DiagnosticsDir  string
	Logger          *logrus.Logger
}

// Close releases the LLM client when it holds a connection.
func (p *PlanStage) Close() {
	if c, ok := p.LLM.(interface{ Close() }); ok {
		c.Close()
	}
}

var wsRun = regexp.MustCompile(`\s+`)

// compactWhitespace collapses runs of internal whitespace and repeated blank
// lines so prompts spend tokens on content, not formatting.
func compactWhitespace(text string) string {
	replacer := strings.NewReplacer("\u00A0", " ", "\u2002", " ", "\u2003", " ", "\u2009", " ")
	var lines []string
	prevBlank := false
	for _, raw := range strings.Split(text, "\n") {
		line := wsRun.ReplaceAllString(strings.TrimSpace(replacer.Replace(raw)), " ")
		if line == "" {
			if !prevBlank {
				lines = append(lines, "")
			}
			prevBlank = true
		} else {
			lines = append(lines, line)
			prevBlank = false
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// splitIntoChunks groups paragraphs into chunks not exceeding budget
// characters. A single paragraph over budget becomes its own chunk rather
// than being split mid-paragraph.
func splitIntoChunks(text string, budget int) []string {
	if budget <= 0 || len(text) <= budget {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var cur strings.Builder
	for _, p := range paragraphs {
		if cur.Len() > 0 && cur.Len()+2+len(p) > budget {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// chunkQuotas distributes n slides over k chunks: every chunk gets n/k and
// the last chunk absorbs the remainder, so the quotas always sum to n.
func chunkQuotas(n, k int) []int {
	quotas := make([]int, k)
	base := n / k
	for i := range quotas {
		quotas[i] = base
	}
	quotas[k-1] = n - base*(k-1)
	return quotas
}

func figuresPromptInjection(figures common.FigureSet) string {
	if len(figures) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\n--- AVAILABLE FIGURES ---\n")
	sb.WriteString("You have been provided with a list of figures. Where relevant, you MUST embed these figures into the slide content using their provided Markdown paths (e.g., `![Title](path)`).\n\n")
	for _, f := range figures {
		title := f.Title
		if title == "" {
			title = fmt.Sprintf("Figure %d", f.Number)
		}
		caption := f.Caption
		if caption == "" {
			caption = "No caption available."
		}
		fmt.Fprintf(&sb, "- Figure %d:\n  - Title: %s\n  - Caption: %s\n  - Markdown Path: %s\n", f.Number, title, caption, f.ImagePath)
	}
	return sb.String()
}

func planUserPrompt(text string, figures common.FigureSet, count int) string {
	return fmt.Sprintf(`**IMPORTANT:** First, review the list of available figures. You MUST embed these figures in the 'content' of relevant slides.
%s

Now, please break the following text into exactly %d slides. Each slide must be a JSON object with these exact keys: "slide_number", "title", "content", and "narration".
- "slide_number": An integer for the slide order.
- "title": A concise title for the slide.
- "content": Keep this extremely minimal:
        * If the slide EMBEDS A FIGURE, use **max 2 short bullet points or <=120 characters**.
        * Otherwise 3-4 bullets or brief paragraph. This is for on-screen text only.
- "narration": This should contain the full, detailed narration for the slide, suitable for text-to-speech. Maximize information transfer here.

Do not include any text, prose, or markdown formatting outside of the main JSON array.

--- TEXT TO CONVERT ---
%s

--- END OF TEXT ---
Remember to include the figures in your response where appropriate.`, figuresPromptInjection(figures), count, text)
}

func summaryUserPrompt(text string, count int) string {
	return fmt.Sprintf(`Please produce exactly %d additional summary slides that capture the key takeaways of the following text. Each slide must be a JSON object with these exact keys: "slide_number", "title", "content", and "narration". Respond with only a valid JSON array of slide objects.

--- TEXT TO SUMMARIZE ---
%s

--- END OF TEXT ---`, count, text)
}

// parsePlanResponse applies the repair pass, parses the payload, and falls
// back to the bracket-window extraction. On total failure the raw response is
// written to a diagnostics file so it is never lost.
func (p *PlanStage) parsePlanResponse(raw string) (common.SlidePlan, error) {
	repaired := RepairJSON(raw)
	plan, err := common.ParseSlidePlan([]byte(repaired))
	if err == nil {
		return plan, nil
	}
	firstErr := err

	if window, ok := ExtractJSONWindow(repaired); ok {
		if plan, err := common.ParseSlidePlan([]byte(window)); err == nil {
			return plan, nil
		}
	}

	path := p.writeDiagnostics(raw)
	if path != "" {
		return nil, fmt.Errorf("parsing slide plan (raw response saved to %s): %w", path, firstErr)
	}
	return nil, fmt.Errorf("parsing slide plan: %w", firstErr)
}

func (p *PlanStage) writeDiagnostics(raw string) string {
	dir := p.DiagnosticsDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	path := filepath.Join(dir, fmt.Sprintf("plan_response_%d.txt", time.Now().UnixNano()))
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		if p.Logger != nil {
			p.Logger.WithError(err).Warn("could not save raw plan response")
		}
		return ""
	}
	return path
}

// GeneratePlan produces exactly n slides from the text. Long documents are
// chunked on paragraph boundaries; per-chunk plans are renumbered
// sequentially, a shortfall triggers one summary request, and an overshoot
// is truncated. If figures were supplied and the model embedded none, the
// lexical matcher places them.
func (p *PlanStage) GeneratePlan(ctx context.Context, text string, figures common.FigureSet, n int) (common.SlidePlan, error) {
	if n <= 0 {
		return nil, fmt.Errorf("slide count must be positive, got %d", n)
	}
	text = compactWhitespace(text)
	if text == "" {
		return nil, fmt.Errorf("no text to plan from")
	}

	chunks := splitIntoChunks(text, p.ChunkCharBudget)
	quotas := chunkQuotas(n, len(chunks))

	var plan common.SlidePlan
	succeeded := 0
	for i, chunk := range chunks {
		if quotas[i] == 0 {
			continue
		}
		part, err := p.requestSlides(ctx, planUserPrompt(chunk, figures, quotas[i]))
		if err != nil {
			if len(chunks) == 1 {
				return nil, err
			}
			if p.Logger != nil {
				p.Logger.WithError(err).WithField("chunk", i+1).Warn("chunk planning failed, continuing")
			}
			continue
		}
		succeeded++
		plan = append(plan, part.Sorted()...)
	}
	if succeeded == 0 {
		return nil, fmt.Errorf("all %d chunks failed to produce slides", len(chunks))
	}

	renumber(plan)

	if len(plan) < n {
		missing := n - len(plan)
		if p.Logger != nil {
			p.Logger.WithField("missing", missing).Info("plan fell short, requesting summary slides")
		}
		extra, err := p.requestSlides(ctx, summaryUserPrompt(chunks[0], missing))
		if err != nil {
			if p.Logger != nil {
				p.Logger.WithError(err).Warn("summary request failed, keeping short plan")
			}
		} else {
			plan = append(plan, extra.Sorted()...)
			renumber(plan)
		}
	}
	if len(plan) > n {
		plan = plan[:n]
	}

	if len(figures) > 0 && !PlanReferencesFigures(plan) {
		if p.Logger != nil {
			p.Logger.Info("model embedded no figures, running lexical matcher")
		}
		plan = MatchFiguresToSlides(plan, figures, p.Matcher, p.Logger)
	}
	return plan, nil
}

func (p *PlanStage) requestSlides(ctx context.Context, userPrompt string) (common.SlidePlan, error) {
	raw, err := p.LLM.Complete(ctx, compactWhitespace(planSystemPrompt), compactWhitespace(userPrompt))
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}
	return p.parsePlanResponse(raw)
}

func renumber(plan common.SlidePlan) {
	for i := range plan {
		plan[i].Number = i + 1
	}
}
