package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ragqa/internal/domain"
)

// RemoteConfig configures a question-answering inference endpoint that takes
// {"question","context"} and returns {"answer","score","start","end"}.
type RemoteConfig struct {
	URL     string
	Timeout time.Duration
	Limits  Limits
}

// Remote calls an extractive QA model served over HTTP.
type Remote struct {
	url    string
	client *http.Client
	limits Limits
}

func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: remote extractor url is empty", domain.ErrInvalidInput)
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	return &Remote{url: cfg.URL, client: &http.Client{Timeout: t}, limits: cfg.Limits.withDefaults()}, nil
}

func (r *Remote) Name() string { return "remote" }

func (r *Remote) Extract(ctx context.Context, question, text string) (domain.Extraction, error) {
	text = Truncate(text, r.limits.MaxContextLength)
	out, err := r.request(ctx, question, text)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Extraction{}, ctx.Err()
		}
		return domain.Extraction{}, fmt.Errorf("%w: %w", domain.ErrModelUnavailable, err)
	}
	return r.limits.finish(out), nil
}

func (r *Remote) request(ctx context.Context, question, text string) (domain.Extraction, error) {
	type reqBody struct {
		Question string `json:"question"`
		Context  string `json:"context"`
	}
	data, err := json.Marshal(reqBody{Question: question, Context: text})
	if err != nil {
		return domain.Extraction{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(data))
	if err != nil {
		return domain.Extraction{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.Extraction{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return domain.Extraction{}, fmt.Errorf("qa endpoint failed: %s", resp.Status)
	}
	var out struct {
		Answer string  `json:"answer"`
		Score  float64 `json:"score"`
		Start  int     `json:"start"`
		End    int     `json:"end"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Extraction{}, fmt.Errorf("decode qa response: %w", err)
	}
	return domain.Extraction{Answer: out.Answer, Confidence: out.Score, Start: out.Start, End: out.End}, nil
}
