package fetch

import (
	"context"
	"fmt"
	"net/url"

	"ragqa/internal/domain"
)

const DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"

// OpenStreetMap geocodes a topic with Nominatim.
type OpenStreetMap struct {
	client *Client
	apiURL string
}

func NewOpenStreetMap(client *Client, apiURL string) *OpenStreetMap {
	if apiURL == "" {
		apiURL = DefaultNominatimURL
	}
	return &OpenStreetMap{client: client, apiURL: apiURL}
}

func (o *OpenStreetMap) Name() string { return "osm" }

func (o *OpenStreetMap) FetchCandidates(ctx context.Context, topic string, limit int) ([]domain.Candidate, error) {
	var places []struct {
		DisplayName string `json:"display_name"`
		Type        string `json:"type"`
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
	}
	params := url.Values{
		"q":              {topic},
		"format":         {"json"},
		"limit":          {itoa(limit)},
		"addressdetails": {"1"},
	}
	if err := o.client.getJSON(ctx, o.apiURL, params, &places); err != nil {
		return nil, fmt.Errorf("nominatim search: %w", err)
	}

	out := make([]domain.Candidate, 0, len(places))
	for _, p := range places {
		if p.DisplayName == "" {
			continue
		}
		kind := p.Type
		if kind == "" {
			kind = "N/A"
		}
		out = append(out, domain.Candidate{
			Title:  p.DisplayName,
			Text:   fmt.Sprintf("Location: %s\nType: %s\nCoordinates: %s, %s", p.DisplayName, kind, p.Lat, p.Lon),
			Source: "OpenStreetMap",
			URL:    fmt.Sprintf("https://www.openstreetmap.org/?mlat=%s&mlon=%s", p.Lat, p.Lon),
		})
	}
	return out, nil
}
