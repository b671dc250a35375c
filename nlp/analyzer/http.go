package analyzer

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"gramtag/nlp/types"

	"github.com/pkg/errors"
)

// HTTPAnalyzer queries a remote analyzer service. The service receives the
// token list and answers with one candidate list per token.
type HTTPAnalyzer struct {
	URL    string
	Client *http.Client
}

func NewHTTPAnalyzer(url string) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		URL:    url,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

type analyzeRequest struct {
	Tokens []string `json:"tokens"`
}

type analyzeResponse struct {
	Analyses []types.Morphologies `json:"analyses"`
}

func (h *HTTPAnalyzer) Analyze(tokens []string) ([]types.Morphologies, error) {
	body, err := json.Marshal(analyzeRequest{Tokens: tokens})
	if err != nil {
		return nil, errors.Wrap(err, "encoding analyze request")
	}
	resp, err := h.Client.Post(h.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "querying analyzer at %s", h.URL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("analyzer at %s: unexpected status %s", h.URL, resp.Status)
	}
	var decoded analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(err, "decoding analyzer response")
	}
	if len(decoded.Analyses) != len(tokens) {
		return nil, errors.Errorf("analyzer returned %d analyses for %d tokens",
			len(decoded.Analyses), len(tokens))
	}
	return decoded.Analyses, nil
}
