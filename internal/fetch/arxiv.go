package fetch

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"path"

	"ragqa/internal/domain"
)

const DefaultArxivURL = "http://export.arxiv.org/api/query"

// Arxiv searches paper abstracts through the arXiv Atom API.
type Arxiv struct {
	client *Client
	apiURL string
}

func NewArxiv(client *Client, apiURL string) *Arxiv {
	if apiURL == "" {
		apiURL = DefaultArxivURL
	}
	return &Arxiv{client: client, apiURL: apiURL}
}

func (a *Arxiv) Name() string { return "arxiv" }

type atomFeed struct {
	Entries []struct {
		ID      string `xml:"id"`
		Title   string `xml:"title"`
		Summary string `xml:"summary"`
	} `xml:"entry"`
}

func (a *Arxiv) FetchCandidates(ctx context.Context, topic string, limit int) ([]domain.Candidate, error) {
	params := url.Values{
		"search_query": {"all:" + topic},
		"start":        {"0"},
		"max_results":  {itoa(limit)},
	}
	body, err := a.client.get(ctx, a.apiURL, params)
	if err != nil {
		return nil, fmt.Errorf("arxiv search: %w", err)
	}
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("arxiv search: decode feed: %w", err)
	}

	out := make([]domain.Candidate, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		title, text := collapse(e.Title), collapse(e.Summary)
		if title == "" || text == "" {
			continue
		}
		id := "N/A"
		if e.ID != "" {
			id = path.Base(e.ID)
		}
		out = append(out, domain.Candidate{
			Title:  title,
			Text:   text,
			Source: "arXiv: " + id,
			URL:    e.ID,
		})
	}
	return out, nil
}
