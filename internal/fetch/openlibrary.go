package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"ragqa/internal/domain"
)

const DefaultOpenLibraryURL = "https://openlibrary.org"

// OpenLibrary searches book records.
type OpenLibrary struct {
	client  *Client
	baseURL string
}

func NewOpenLibrary(client *Client, baseURL string) *OpenLibrary {
	if baseURL == "" {
		baseURL = DefaultOpenLibraryURL
	}
	return &OpenLibrary{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (o *OpenLibrary) Name() string { return "openlibrary" }

// stringList decodes either a JSON string or an array of strings.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

func (o *OpenLibrary) FetchCandidates(ctx context.Context, topic string, limit int) ([]domain.Candidate, error) {
	var resp struct {
		Docs []struct {
			Key              string     `json:"key"`
			Title            string     `json:"title"`
			AuthorName       []string   `json:"author_name"`
			FirstPublishYear int        `json:"first_publish_year"`
			FirstSentence    stringList `json:"first_sentence"`
		} `json:"docs"`
	}
	params := url.Values{"q": {topic}, "limit": {itoa(limit)}}
	if err := o.client.getJSON(ctx, o.baseURL+"/search.json", params, &resp); err != nil {
		return nil, fmt.Errorf("openlibrary search: %w", err)
	}

	out := make([]domain.Candidate, 0, len(resp.Docs))
	for _, d := range resp.Docs {
		title := d.Title
		if title == "" {
			title = "Unknown Title"
		}
		authors := "Unknown"
		if len(d.AuthorName) > 0 {
			authors = strings.Join(d.AuthorName, ", ")
		}
		published := "N/A"
		if d.FirstPublishYear > 0 {
			published = itoa(d.FirstPublishYear)
		}
		description := "No description available"
		if len(d.FirstSentence) > 0 && d.FirstSentence[0] != "" {
			description = d.FirstSentence[0]
		}
		out = append(out, domain.Candidate{
			Title:  title,
			Text:   fmt.Sprintf("Author: %s\nPublished: %s\nDescription: %s", authors, published, description),
			Source: "OpenLibrary: " + title,
			URL:    "https://openlibrary.org" + d.Key,
		})
	}
	return out, nil
}
