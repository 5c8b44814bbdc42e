package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"ragqa/internal/domain"
)

const (
	DefaultStackExchangeURL  = "https://api.stackexchange.com/2.3"
	DefaultStackExchangeSite = "stackoverflow"
)

// StackExchange searches questions by title and attaches accepted answers.
type StackExchange struct {
	client  *Client
	baseURL string
	site    string
}

func NewStackExchange(client *Client, baseURL, site string) *StackExchange {
	if baseURL == "" {
		baseURL = DefaultStackExchangeURL
	}
	if site == "" {
		site = DefaultStackExchangeSite
	}
	return &StackExchange{client: client, baseURL: strings.TrimRight(baseURL, "/"), site: site}
}

func (s *StackExchange) Name() string { return "stackexchange" }

func (s *StackExchange) FetchCandidates(ctx context.Context, topic string, limit int) ([]domain.Candidate, error) {
	var search struct {
		Items []struct {
			Title            string `json:"title"`
			Body             string `json:"body"`
			Link             string `json:"link"`
			AnswerCount      int    `json:"answer_count"`
			AcceptedAnswerID int    `json:"accepted_answer_id"`
		} `json:"items"`
	}
	params := url.Values{
		"order":    {"desc"},
		"sort":     {"relevance"},
		"intitle":  {topic},
		"site":     {s.site},
		"pagesize": {itoa(limit)},
		"filter":   {"withbody"},
	}
	if err := s.client.getJSON(ctx, s.baseURL+"/search", params, &search); err != nil {
		return nil, fmt.Errorf("stackexchange search: %w", err)
	}

	var accepted []string
	for _, it := range search.Items {
		if it.AnswerCount > 0 && it.AcceptedAnswerID > 0 {
			accepted = append(accepted, itoa(it.AcceptedAnswerID))
		}
	}
	answers := map[int]string{}
	if len(accepted) > 0 {
		var resp struct {
			Items []struct {
				AnswerID int    `json:"answer_id"`
				Body     string `json:"body"`
			} `json:"items"`
		}
		params := url.Values{"site": {s.site}, "filter": {"withbody"}}
		endpoint := s.baseURL + "/answers/" + strings.Join(accepted, ";")
		// Answers are optional; a failed lookup still yields the questions.
		if err := s.client.getJSON(ctx, endpoint, params, &resp); err == nil {
			for _, a := range resp.Items {
				answers[a.AnswerID] = clip(cleanHTML(a.Body), maxSnippetRunes)
			}
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	out := make([]domain.Candidate, 0, len(search.Items))
	for _, it := range search.Items {
		title := cleanHTML(it.Title)
		if title == "" {
			title = "Question"
		}
		text := "Question: " + clip(cleanHTML(it.Body), maxSnippetRunes) + "\n\nAnswer: " + answers[it.AcceptedAnswerID]
		out = append(out, domain.Candidate{
			Title:  title,
			Text:   strings.TrimSpace(text),
			Source: "Stack Overflow: " + title,
			URL:    it.Link,
		})
	}
	return out, nil
}
