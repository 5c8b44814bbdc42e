package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"ragqa/internal/domain"
)

const DefaultWikipediaURL = "https://en.wikipedia.org/w/api.php"

// Wikipedia searches articles and returns their plain-text introductions.
type Wikipedia struct {
	client  *Client
	apiURL  string
	pageURL string
}

func NewWikipedia(client *Client, apiURL string) *Wikipedia {
	if apiURL == "" {
		apiURL = DefaultWikipediaURL
	}
	return &Wikipedia{client: client, apiURL: apiURL, pageURL: "https://en.wikipedia.org/?curid="}
}

func (w *Wikipedia) Name() string { return "wikipedia" }

func (w *Wikipedia) FetchCandidates(ctx context.Context, topic string, limit int) ([]domain.Candidate, error) {
	var search struct {
		Query struct {
			Search []struct {
				PageID int    `json:"pageid"`
				Title  string `json:"title"`
			} `json:"search"`
		} `json:"query"`
	}
	params := url.Values{
		"action":   {"query"},
		"format":   {"json"},
		"list":     {"search"},
		"srsearch": {topic},
		"srlimit":  {itoa(limit)},
		"srprop":   {"snippet"},
	}
	if err := w.client.getJSON(ctx, w.apiURL, params, &search); err != nil {
		return nil, fmt.Errorf("wikipedia search: %w", err)
	}
	hits := search.Query.Search
	if len(hits) == 0 {
		return []domain.Candidate{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = itoa(h.PageID)
	}
	var pages struct {
		Query struct {
			Pages map[string]struct {
				Extract string `json:"extract"`
			} `json:"pages"`
		} `json:"query"`
	}
	params = url.Values{
		"action":      {"query"},
		"format":      {"json"},
		"pageids":     {strings.Join(ids, "|")},
		"prop":        {"extracts"},
		"exintro":     {"1"},
		"explaintext": {"1"},
	}
	if err := w.client.getJSON(ctx, w.apiURL, params, &pages); err != nil {
		return nil, fmt.Errorf("wikipedia extracts: %w", err)
	}

	out := make([]domain.Candidate, 0, len(hits))
	for i, h := range hits {
		text := strings.TrimSpace(pages.Query.Pages[ids[i]].Extract)
		if text == "" {
			continue
		}
		out = append(out, domain.Candidate{
			Title:  h.Title,
			Text:   text,
			Source: "Wikipedia: " + h.Title,
			URL:    w.pageURL + ids[i],
		})
	}
	return out, nil
}
