package common

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const mistralOCRURL = "https://api.mistral.ai/v1/ocr"

// MistralClient is the OCR collaborator. It submits the whole PDF once and
// returns per-page markdown plus the embedded page images; the extraction
// stage caches the result so one document is never sent twice per process.
type MistralClient struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Retrier    *Retrier
}

func NewMistralClient(apiKey string, retrier *Retrier) *MistralClient {
	return &MistralClient{
		APIKey:     apiKey,
		BaseURL:    mistralOCRURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		Retrier:    retrier,
	}
}

// Configured reports whether the collaborator can be called at all.
func (c *MistralClient) Configured() bool {
	return c.APIKey != ""
}

// OCRPage is one page of collaborator output.
type OCRPage struct {
	Index    int        `json:"index"`
	Markdown string     `json:"markdown"`
	Images   []OCRImage `json:"images"`
}

// OCRImage is an embedded image with a stable per-page identifier.
type OCRImage struct {
	ID     string `json:"id"`
	Base64 string `json:"image_base64"`
}

// OCRResult is the full per-document response.
type OCRResult struct {
	Pages []OCRPage `json:"pages"`
}

// ProcessPDF submits the PDF as a data URL and decodes the OCR response.
// 429 and 5xx responses are retried with backoff; everything else is fatal.
func (c *MistralClient) ProcessPDF(ctx context.Context, pdfPath string) (*OCRResult, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("MISTRAL_API_KEY not set")
	}

	pdfBytes, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("reading pdf: %w", err)
	}

	payload := map[string]interface{}{
		"model": "mistral-ocr-latest",
		"document": map[string]string{
			"type":         "document_url",
			"document_url": "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdfBytes),
		},
		"include_image_base64": true,
	}
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding ocr request: %w", err)
	}

	body, err := RetryDo(ctx, c.Retrier, "mistral ocr", func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(jsonPayload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.APIKey)

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			if TransientHTTPStatus(resp.StatusCode) {
				return nil, &RateLimitError{StatusCode: resp.StatusCode, Message: string(data)}
			}
			return nil, fmt.Errorf("ocr api error: %d - %s", resp.StatusCode, string(data))
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	var result OCRResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decoding ocr response: %w", err)
	}
	if len(result.Pages) == 0 {
		return nil, fmt.Errorf("ocr response contained no pages")
	}
	return &result, nil
}
