// Package summarize produces bullet-point summaries of a document section
// through an external inference API. Summarization is read-only: it never
// touches room or document state, and a failure is visible only to the
// requesting client.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Maheshnath09/duoreport/internal/document"
)

// DefaultEndpoint is the hosted summarization model used when no endpoint
// is configured.
const DefaultEndpoint = "https://api-inference.huggingface.co/models/facebook/bart-large-cnn"

// DefaultTimeout bounds one summarization request.
const DefaultTimeout = 30 * time.Second

// maxInput caps the text sent upstream.
const maxInput = 1024

// ErrUpstream marks a failed or unusable response from the inference API.
var ErrUpstream = errors.New("summarization upstream failed")

// Messages returned for content that cannot usefully be summarized.
const (
	MsgNoContent = "No content to summarize"
	MsgTooShort  = "Content too short to summarize"
)

// Client calls the summarization API.
type Client struct {
	endpoint string
	http     *http.Client
}

// New builds a client for the given endpoint; empty values fall back to
// the defaults.
func New(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type inferenceRequest struct {
	Inputs string `json:"inputs"`
}

type inferenceResult struct {
	SummaryText string `json:"summary_text"`
}

// Summarize strips markup from the section text and returns the summary as
// bullet strings. Trivial content short-circuits without an upstream call.
// Upstream failure or timeout returns an error wrapping ErrUpstream or the
// context error.
func (c *Client) Summarize(ctx context.Context, text string) ([]string, error) {
	clean := document.StripTags(text)
	if clean == "" {
		return []string{MsgNoContent}, nil
	}
	if len(clean) < 50 {
		return []string{MsgTooShort}, nil
	}
	if len(clean) > maxInput {
		cut := maxInput
		for cut > 0 && !utf8.RuneStart(clean[cut]) {
			cut--
		}
		clean = clean[:cut]
	}

	body, err := json.Marshal(inferenceRequest{Inputs: clean})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var results []inferenceResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if len(results) == 0 || results[0].SummaryText == "" {
		return nil, fmt.Errorf("%w: empty result", ErrUpstream)
	}
	return bullets(results[0].SummaryText), nil
}

// bullets splits a summary into one bullet per sentence.
func bullets(summary string) []string {
	var out []string
	for _, sentence := range strings.Split(summary, ". ") {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if !strings.HasSuffix(sentence, ".") {
			sentence += "."
		}
		out = append(out, sentence)
	}
	return out
}
