package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSlidePlanBareArray(t *testing.T) {
	data := []byte(`[
		{"slide_number": 2, "title": "Methods", "content": "- a", "narration": "We did a."},
		{"slide_number": 1, "title": "Intro", "content": "- b", "audio": "Hello."}
	]`)

	plan, err := ParseSlidePlan(data)
	require.NoError(t, err)
	require.Len(t, plan, 2)

	sorted := plan.Sorted()
	assert.Equal(t, "Intro", sorted[0].Title)
	assert.Equal(t, "Hello.", sorted[0].Narration)
	assert.Equal(t, "Methods", sorted[1].Title)
}

func TestParseSlidePlanKeyVariants(t *testing.T) {
	data := []byte(`{"slides": [
		{"slide number": 1, "title": "A", "content": "c", "audio": "n"},
		{"slideNumber": 2, "title": "B", "content": ["x", "y"], "narration": "m"}
	]}`)

	plan, err := ParseSlidePlan(data)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, 1, plan[0].Number)
	assert.Equal(t, "n", plan[0].Narration)
	assert.Equal(t, 2, plan[1].Number)
	assert.Equal(t, "x\ny", plan[1].Content)
}

func TestParseSlidePlanRejectsUnknownKey(t *testing.T) {
	data := []byte(`[{"slide_number": 1, "title": "A", "content": "c", "speaker_notes": "x"}]`)
	_, err := ParseSlidePlan(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown key "speaker_notes"`)
}

func TestParseSlidePlanRejectsDuplicateNumbers(t *testing.T) {
	data := []byte(`[
		{"slide_number": 1, "title": "A"},
		{"slide_number": 1, "title": "B"}
	]`)
	_, err := ParseSlidePlan(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate slide number")
}

func TestParseSlidePlanStringNumber(t *testing.T) {
	data := []byte(`[{"slide_number": "3", "title": "A"}]`)
	plan, err := ParseSlidePlan(data)
	require.NoError(t, err)
	assert.Equal(t, 3, plan[0].Number)
}

func TestSortedMissingNumbersLast(t *testing.T) {
	plan := SlidePlan{
		{Number: 0, Title: "unnumbered"},
		{Number: 3, Title: "three"},
		{Number: 1, Title: "one"},
	}
	sorted := plan.Sorted()
	assert.Equal(t, []string{"one", "three", "unnumbered"},
		[]string{sorted[0].Title, sorted[1].Title, sorted[2].Title})
}

func TestFigureSetValidate(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "figure-1.png")
	require.NoError(t, os.WriteFile(img, []byte("png"), 0644))

	ok := FigureSet{{Number: 1, Title: "Figure 1", ImagePath: img}}
	assert.NoError(t, ok.Validate())

	stale := FigureSet{{Number: 1, Title: "Figure 1", ImagePath: filepath.Join(dir, "gone.png")}}
	assert.Error(t, stale.Validate())
}

func TestSlidePlanRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.json")

	plan := SlidePlan{{Number: 1, Title: "A", Content: "c", Narration: "n"}}
	require.NoError(t, plan.Save(path))

	loaded, err := LoadSlidePlan(path)
	require.NoError(t, err)
	assert.Equal(t, plan, loaded)
}
