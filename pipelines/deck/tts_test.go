package deck

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"papercast/common"
)

type fakeSynth struct {
	configErr error
	failFor   map[string]bool
	calls     []string
}

func (f *fakeSynth) Configured() error { return f.configErr }

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.calls = append(f.calls, text)
	if f.failFor[text] {
		return nil, fmt.Errorf("synthesis refused")
	}
	return []byte("audio:" + text), nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestSynthesizeNarrationWritesClipsBySlideNumber(t *testing.T) {
	dir := t.TempDir()
	plan := common.SlidePlan{
		{Number: 2, Narration: "second"},
		{Number: 1, Narration: "first"},
		{Number: 3, Narration: "third"},
	}

	written, err := SynthesizeNarration(context.Background(), &fakeSynth{}, plan, dir, quietLogger(), nil)
	require.NoError(t, err)
	require.Len(t, written, 3)

	assert.Equal(t, filepath.Join(dir, "slide01.wav"), written[0])
	assert.Equal(t, filepath.Join(dir, "slide02.wav"), written[1])
	assert.Equal(t, filepath.Join(dir, "slide03.wav"), written[2])

	data, err := os.ReadFile(written[0])
	require.NoError(t, err)
	assert.Equal(t, "audio:first", string(data))
}

func TestSynthesizeNarrationSkipsBlankNarration(t *testing.T) {
	dir := t.TempDir()
	plan := common.SlidePlan{
		{Number: 1, Narration: "spoken"},
		{Number: 2, Narration: "   \n"},
		{Number: 3},
	}

	synth := &fakeSynth{}
	written, err := SynthesizeNarration(context.Background(), synth, plan, dir, quietLogger(), nil)
	require.NoError(t, err)
	assert.Len(t, written, 1)
	assert.Len(t, synth.calls, 1)
}

func TestSynthesizeNarrationSlideFailureDoesNotAbort(t *testing.T) {
	dir := t.TempDir()
	plan := common.SlidePlan{
		{Number: 1, Narration: "ok one"},
		{Number: 2, Narration: "breaks"},
		{Number: 3, Narration: "ok two"},
	}

	synth := &fakeSynth{failFor: map[string]bool{"breaks": true}}
	written, err := SynthesizeNarration(context.Background(), synth, plan, dir, quietLogger(), nil)
	require.NoError(t, err)
	require.Len(t, written, 2)
	assert.Equal(t, filepath.Join(dir, "slide01.wav"), written[0])
	assert.Equal(t, filepath.Join(dir, "slide03.wav"), written[1])
}

func TestSynthesizeNarrationUnconfiguredFailsStage(t *testing.T) {
	synth := &fakeSynth{configErr: fmt.Errorf("missing key")}
	_, err := SynthesizeNarration(context.Background(), synth, common.SlidePlan{{Number: 1, Narration: "x"}}, t.TempDir(), quietLogger(), nil)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageNarrate, stageErr.Stage)
	assert.Empty(t, synth.calls)
}

func TestSynthesizeNarrationWidePaddingOver99Slides(t *testing.T) {
	dir := t.TempDir()
	plan := common.SlidePlan{
		{Number: 1, Narration: "first"},
		{Number: 120, Narration: "last"},
	}

	written, err := SynthesizeNarration(context.Background(), &fakeSynth{}, plan, dir, quietLogger(), nil)
	require.NoError(t, err)
	require.Len(t, written, 2)
	assert.Equal(t, filepath.Join(dir, "slide001.wav"), written[0])
	assert.Equal(t, filepath.Join(dir, "slide120.wav"), written[1])
}

func TestSynthesizeNarrationReportsProgress(t *testing.T) {
	plan := common.SlidePlan{
		{Number: 1, Narration: "one"},
		{Number: 2, Narration: ""},
		{Number: 3, Narration: "three"},
	}

	var reported [][2]int
	_, err := SynthesizeNarration(context.Background(), &fakeSynth{}, plan, t.TempDir(), quietLogger(), func(current, total int) {
		reported = append(reported, [2]int{current, total})
	})
	require.NoError(t, err)

	// Every slide counts toward progress, including ones skipped for blank
	// narration.
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, reported)
}

func testRetrier() *common.Retrier {
	return &common.Retrier{
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
		Limiter:     rate.NewLimiter(rate.Inf, 1),
	}
}

func TestSarvamSynthesizeSingleChunk(t *testing.T) {
	wav := buildTestWAV([]byte{1, 2, 3, 4})
	var gotPayload map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("api-subscription-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"audios": []string{base64.StdEncoding.EncodeToString(wav)},
		})
	}))
	defer srv.Close()

	client := NewSarvamClient("secret", "en-IN", "anushka", testRetrier())
	client.BaseURL = srv.URL

	audio, err := client.Synthesize(context.Background(), "Hello there, scientists.")
	require.NoError(t, err)
	assert.Equal(t, wav, audio)

	assert.Equal(t, "bulbul:v2", gotPayload["model"])
	assert.Equal(t, "en-IN", gotPayload["target_language_code"])
	assert.Equal(t, "anushka", gotPayload["speaker"])
}

func TestSarvamSynthesizeRetriesTransientStatus(t *testing.T) {
	wav := buildTestWAV([]byte{9, 9})
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"audios": []string{base64.StdEncoding.EncodeToString(wav)},
		})
	}))
	defer srv.Close()

	client := NewSarvamClient("secret", "", "", testRetrier())
	client.BaseURL = srv.URL

	audio, err := client.Synthesize(context.Background(), "short text")
	require.NoError(t, err)
	assert.Equal(t, wav, audio)
	assert.Equal(t, 2, attempts)
}

func TestSarvamSynthesizeFatalStatusNoRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewSarvamClient("bad", "", "", testRetrier())
	client.BaseURL = srv.URL

	_, err := client.Synthesize(context.Background(), "short text")
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestSarvamConfigured(t *testing.T) {
	assert.Error(t, NewSarvamClient("", "", "", testRetrier()).Configured())
	assert.NoError(t, NewSarvamClient("key", "", "", testRetrier()).Configured())
}

func TestCleanTextForTTS(t *testing.T) {
	in := "## Heading\n**Bold claim** with *emphasis* and a [link](http://x) plus $math$"
	out := cleanTextForTTS(in)
	assert.NotContains(t, out, "#")
	assert.NotContains(t, out, "*")
	assert.NotContains(t, out, "$")
	assert.Contains(t, out, "Bold claim")
	assert.Contains(t, out, "emphasis")
}

func TestSplitTextBySentence(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("This is a sentence. ", 40))
	chunks := splitTextBySentence(text, 100)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 100)
	}
}

func TestSplitTextBySentenceShortInput(t *testing.T) {
	chunks := splitTextBySentence("Tiny.", 500)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Tiny.", chunks[0])
}

func buildTestWAV(pcm []byte) []byte {
	var out []byte
	out = append(out, []byte("RIFF")...)
	out = binary.LittleEndian.AppendUint32(out, 0) // patched below
	out = append(out, []byte("WAVE")...)
	out = append(out, []byte("fmt ")...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	fmtChunk := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtChunk[0:2], 1)      // PCM
	binary.LittleEndian.PutUint16(fmtChunk[2:4], 1)      // mono
	binary.LittleEndian.PutUint32(fmtChunk[4:8], 22050)  // sample rate
	binary.LittleEndian.PutUint32(fmtChunk[8:12], 44100) // byte rate
	binary.LittleEndian.PutUint16(fmtChunk[12:14], 2)
	binary.LittleEndian.PutUint16(fmtChunk[14:16], 16)
	out = append(out, fmtChunk...)
	out = append(out, []byte("data")...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(pcm)))
	out = append(out, pcm...)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))
	return out
}

func TestMergeWAVsConcatenatesPCM(t *testing.T) {
	a := buildTestWAV([]byte{1, 2, 3, 4})
	b := buildTestWAV([]byte{5, 6})

	merged, err := mergeWAVs([][]byte{a, b})
	require.NoError(t, err)

	_, pcm, err := splitWAV(merged)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, pcm)
}

func TestMergeWAVsSinglePassthrough(t *testing.T) {
	a := buildTestWAV([]byte{7, 8})
	merged, err := mergeWAVs([][]byte{a})
	require.NoError(t, err)
	assert.Equal(t, a, merged)
}

func TestSplitWAVRejectsGarbage(t *testing.T) {
	_, _, err := splitWAV([]byte("definitely not audio"))
	assert.Error(t, err)
}
