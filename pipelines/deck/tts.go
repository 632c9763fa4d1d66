package deck

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"

	"papercast/common"
)

// SpeechSynthesizer is the TTS collaborator surface. Configured is checked
// once before iteration; a failing check fails the whole narration stage,
// while individual Synthesize failures only skip a slide.
type SpeechSynthesizer interface {
	Configured() error
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

const sarvamTTSURL = "https://api.sarvam.ai/text-to-speech"

// Narration longer than this is synthesized in sentence chunks and the WAV
// payloads merged, since the API rejects long inputs.
const sarvamChunkLimit = 500

// SarvamClient synthesizes speech through the Sarvam API.
type SarvamClient struct {
	APIKey     string
	BaseURL    string
	Language   string
	Speaker    string
	HTTPClient *http.Client
	Retrier    *common.Retrier
}

func NewSarvamClient(apiKey, language, speaker string, retrier *common.Retrier) *SarvamClient {
	if language == "" {
		language = "en-IN"
	}
	if speaker == "" {
		speaker = "anushka"
	}
	return &SarvamClient{
		APIKey:     apiKey,
		BaseURL:    sarvamTTSURL,
		Language:   language,
		Speaker:    speaker,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Retrier:    retrier,
	}
}

func (s *SarvamClient) Configured() error {
	if s.APIKey == "" {
		return fmt.Errorf("SARVAM_API_KEY not set")
	}
	return nil
}

func (s *SarvamClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = cleanTextForTTS(text)
	if text == "" {
		return nil, fmt.Errorf("empty text after cleaning")
	}

	chunks := splitTextBySentence(text, sarvamChunkLimit)
	wavs := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		wav, err := s.synthesizeChunk(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		wavs = append(wavs, wav)
	}
	return mergeWAVs(wavs)
}

func (s *SarvamClient) synthesizeChunk(ctx context.Context, text string) ([]byte, error) {
	payload := map[string]interface{}{
		"inputs":               []string{text},
		"target_language_code": s.Language,
		"speaker":              s.Speaker,
		"speech_sample_rate":   22050,
		"enable_preprocessing": true,
		"model":                "bulbul:v2",
	}
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	body, err := common.RetryDo(ctx, s.Retrier, "sarvam tts", func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL, bytes.NewReader(jsonPayload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("api-subscription-key", s.APIKey)

		resp, err := s.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			if common.TransientHTTPStatus(resp.StatusCode) {
				return nil, &common.RateLimitError{StatusCode: resp.StatusCode, Message: string(data)}
			}
			return nil, fmt.Errorf("tts api error: %d - %s", resp.StatusCode, string(data))
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		Audios []string `json:"audios"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decoding tts response: %w", err)
	}
	if len(result.Audios) == 0 {
		return nil, fmt.Errorf("no audio in response")
	}

	audioStr := result.Audios[0]
	// Strip a data-URL prefix if present.
	if idx := strings.Index(audioStr, ","); idx != -1 {
		audioStr = audioStr[idx+1:]
	}
	return base64.StdEncoding.DecodeString(audioStr)
}

// OpenAISpeech synthesizes speech through the OpenAI audio API. Selected with
// tts_provider: openai.
type OpenAISpeech struct {
	APIKey string
	Voice  string
	client openai.Client
}

func NewOpenAISpeech(apiKey, voice string) *OpenAISpeech {
	if voice == "" {
		voice = "alloy"
	}
	return &OpenAISpeech{
		APIKey: apiKey,
		Voice:  voice,
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (o *OpenAISpeech) Configured() error {
	if o.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY not set")
	}
	return nil
}

func (o *OpenAISpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = cleanTextForTTS(text)
	if text == "" {
		return nil, fmt.Errorf("empty text after cleaning")
	}

	resp, err := o.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModelTTS1,
		Voice:          openai.AudioSpeechNewParamsVoice(o.Voice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// SynthesizeNarration writes one audio clip per slide with non-empty
// narration, named by slide number. A slide failure is logged and skipped;
// only a synthesizer that is not configured at all fails the stage. progress,
// when non-nil, receives the (current, total) slide counter each iteration.
func SynthesizeNarration(ctx context.Context, synth SpeechSynthesizer, plan common.SlidePlan, outDir string, logger *logrus.Logger, progress func(current, total int)) ([]string, error) {
	if err := synth.Configured(); err != nil {
		return nil, &StageError{Stage: StageNarrate, Op: "tts credential check", Wrapped: err}
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, &StageError{Stage: StageNarrate, Op: "create audio directory", Wrapped: err}
	}

	stageLog := common.StageLogger(logger, string(StageNarrate))
	sorted := plan.Sorted()
	maxNumber := plan.MaxNumber()

	var written []string
	for i, slide := range sorted {
		if progress != nil {
			progress(i+1, len(sorted))
		}
		entry := stageLog.WithField("slide", slide.Number)
		if strings.TrimSpace(slide.Narration) == "" {
			entry.Info("no narration, skipping audio")
			continue
		}

		audio, err := synth.Synthesize(ctx, slide.Narration)
		if err != nil {
			entry.WithError(err).Warn("narration synthesis failed, skipping slide")
			continue
		}

		path := filepath.Join(outDir, common.AudioClipName(slide.Number, maxNumber))
		if err := os.WriteFile(path, audio, 0o644); err != nil {
			entry.WithError(err).Warn("could not write audio clip, skipping slide")
			continue
		}
		written = append(written, path)
	}

	if len(written) == 0 {
		stageLog.Warn("no narration clips were produced")
	}
	return written, nil
}

var (
	ttsBoldRe     = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	ttsItalicRe   = regexp.MustCompile(`\*([^*]+)\*`)
	ttsHeadingRe  = regexp.MustCompile(`#+\s*`)
	ttsSymbolRe   = regexp.MustCompile(`[^\w\s.,!?;:\-()"']`)
	ttsWhitespace = regexp.MustCompile(`\s+`)
)

// cleanTextForTTS strips markdown and symbols that TTS engines read aloud.
func cleanTextForTTS(text string) string {
	text = ttsBoldRe.ReplaceAllString(text, "$1")
	text = ttsItalicRe.ReplaceAllString(text, "$1")
	text = ttsHeadingRe.ReplaceAllString(text, "")
	text = ttsSymbolRe.ReplaceAllString(text, " ")
	text = ttsWhitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

var sentenceEndRe = regexp.MustCompile(`[.!?]+\s+`)

// splitTextBySentence groups sentences into chunks under maxLength. A single
// sentence over the limit becomes its own chunk.
func splitTextBySentence(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}

	var chunks []string
	current := ""
	for _, sentence := range sentenceEndRe.Split(text, -1) {
		if len(current)+len(sentence)+1 <= maxLength {
			current += sentence + " "
		} else {
			if current != "" {
				chunks = append(chunks, strings.TrimSpace(current))
			}
			current = sentence + " "
		}
	}
	if current != "" {
		chunks = append(chunks, strings.TrimSpace(current))
	}
	return chunks
}

// mergeWAVs concatenates WAV payloads into one file by joining their data
// chunks under the first file's header. All inputs come from the same
// synthesis request, so their formats match.
func mergeWAVs(wavs [][]byte) ([]byte, error) {
	if len(wavs) == 0 {
		return nil, fmt.Errorf("no audio chunks to merge")
	}
	if len(wavs) == 1 {
		return wavs[0], nil
	}

	var header []byte
	var pcm bytes.Buffer
	for i, wav := range wavs {
		h, data, err := splitWAV(wav)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i+1, err)
		}
		if header == nil {
			header = h
		}
		pcm.Write(data)
	}

	out := make([]byte, 0, len(header)+8+pcm.Len())
	out = append(out, header...)
	out = append(out, []byte("data")...)
	out = binary.LittleEndian.AppendUint32(out, uint32(pcm.Len()))
	out = append(out, pcm.Bytes()...)

	// Patch the RIFF size: total length minus the 8-byte RIFF preamble.
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))
	return out, nil
}

// splitWAV separates everything before the data chunk from the PCM payload.
func splitWAV(wav []byte) (header, data []byte, err error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	pos := 12
	for pos+8 <= len(wav) {
		chunkID := string(wav[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		if chunkID == "data" {
			end := pos + 8 + chunkSize
			if end > len(wav) {
				end = len(wav)
			}
			return wav[:pos], wav[pos+8 : end], nil
		}
		pos += 8 + chunkSize
		if chunkSize%2 == 1 {
			pos++
		}
	}
	return nil, nil, fmt.Errorf("no data chunk found")
}
