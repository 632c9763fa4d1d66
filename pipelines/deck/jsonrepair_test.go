package deck

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSONIdempotentOnValidInput(t *testing.T) {
	valid := `{"slides": [{"slide_number": 1, "title": "Intro", "content": "line one\nline two"}]}`
	assert.Equal(t, valid, RepairJSON(valid))
}

func TestRepairJSONEscapesRawNewlineInString(t *testing.T) {
	raw := "{\"caption\": \"top row\nbottom row\"}"

	var before map[string]string
	require.Error(t, json.Unmarshal([]byte(raw), &before))

	var after map[string]string
	require.NoError(t, json.Unmarshal([]byte(RepairJSON(raw)), &after))
	assert.Equal(t, "top row\nbottom row", after["caption"])
}

func TestRepairJSONFencedResponseWithRawNewline(t *testing.T) {
	raw := "```json\n{\"slides\": [{\"slide_number\": 1, \"title\": \"Results\", \"content\": \"Accuracy rose\nacross all runs\"}]}\n```"

	var before map[string]json.RawMessage
	require.Error(t, json.Unmarshal([]byte(raw), &before))

	repaired := RepairJSON(raw)
	var after struct {
		Slides []struct {
			Number  int    `json:"slide_number"`
			Title   string `json:"title"`
			Content string `json:"content"`
		} `json:"slides"`
	}
	require.NoError(t, json.Unmarshal([]byte(repaired), &after))
	require.Len(t, after.Slides, 1)
	assert.Equal(t, "Accuracy rose\nacross all runs", after.Slides[0].Content)
}

func TestRepairJSONLeavesInterTokenNewlinesAlone(t *testing.T) {
	raw := "{\n  \"title\": \"ok\"\n}"
	assert.Equal(t, raw, RepairJSON(raw))
}

func TestRepairJSONAlreadyEscapedSequencesUntouched(t *testing.T) {
	raw := `{"content": "a\nb\tc"}`
	assert.Equal(t, raw, RepairJSON(raw))
}

func TestExtractJSONWindow(t *testing.T) {
	t.Run("object with prose around it", func(t *testing.T) {
		w, ok := ExtractJSONWindow(`Here is the plan: {"slides": []} hope that helps!`)
		require.True(t, ok)
		assert.Equal(t, `{"slides": []}`, w)
	})

	t.Run("bare array is not truncated to first element", func(t *testing.T) {
		w, ok := ExtractJSONWindow(`Sure! [{"slide_number": 1}, {"slide_number": 2}] Done.`)
		require.True(t, ok)
		assert.Equal(t, `[{"slide_number": 1}, {"slide_number": 2}]`, w)
	})

	t.Run("no brackets", func(t *testing.T) {
		_, ok := ExtractJSONWindow("no structured payload here")
		assert.False(t, ok)
	})
}
