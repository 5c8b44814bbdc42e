package fetch

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"ragqa/internal/domain"
)

const DefaultPubMedURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubMed searches article ids with esearch and reads abstracts with efetch.
type PubMed struct {
	client  *Client
	baseURL string
}

func NewPubMed(client *Client, baseURL string) *PubMed {
	if baseURL == "" {
		baseURL = DefaultPubMedURL
	}
	return &PubMed{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *PubMed) Name() string { return "pubmed" }

type pubmedSet struct {
	Articles []struct {
		PMID     string `xml:"MedlineCitation>PMID"`
		Title    string `xml:"MedlineCitation>Article>ArticleTitle"`
		Abstract []struct {
			Inner string `xml:",innerxml"`
		} `xml:"MedlineCitation>Article>Abstract>AbstractText"`
	} `xml:"PubmedArticle"`
}

func (p *PubMed) FetchCandidates(ctx context.Context, topic string, limit int) ([]domain.Candidate, error) {
	var search struct {
		Result struct {
			IDs []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	params := url.Values{
		"db":      {"pubmed"},
		"term":    {topic},
		"retmax":  {itoa(limit)},
		"retmode": {"json"},
	}
	if err := p.client.getJSON(ctx, p.baseURL+"/esearch.fcgi", params, &search); err != nil {
		return nil, fmt.Errorf("pubmed search: %w", err)
	}
	if len(search.Result.IDs) == 0 {
		return []domain.Candidate{}, nil
	}

	params = url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(search.Result.IDs, ",")},
		"retmode": {"xml"},
	}
	body, err := p.client.get(ctx, p.baseURL+"/efetch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("pubmed fetch: %w", err)
	}
	var set pubmedSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("pubmed fetch: decode articles: %w", err)
	}

	out := make([]domain.Candidate, 0, len(set.Articles))
	for _, a := range set.Articles {
		parts := make([]string, 0, len(a.Abstract))
		for _, section := range a.Abstract {
			if t := cleanHTML(section.Inner); t != "" {
				parts = append(parts, t)
			}
		}
		title, text := collapse(a.Title), strings.Join(parts, " ")
		if title == "" || text == "" {
			continue
		}
		c := domain.Candidate{Title: title, Text: text, Source: "PubMed: N/A"}
		if a.PMID != "" {
			c.Source = "PubMed: " + a.PMID
			c.URL = "https://pubmed.ncbi.nlm.nih.gov/" + a.PMID + "/"
		}
		out = append(out, c)
	}
	return out, nil
}
