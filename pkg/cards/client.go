package cards

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Card is the summary attached to a message's metadata. A failed lookup
// degrades the message to plain text; nothing depends on this API being up.
type Card struct {
	Name     string `json:"name"`
	SetCode  string `json:"set"`
	ManaCost string `json:"mana_cost"`
	TypeLine string `json:"type_line"`
	Text     string `json:"oracle_text"`
	ImageURL string `json:"image_url"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type searchResponse struct {
	Data []struct {
		Name      string `json:"name"`
		Set       string `json:"set"`
		ManaCost  string `json:"mana_cost"`
		TypeLine  string `json:"type_line"`
		Text      string `json:"oracle_text"`
		ImageURIs struct {
			Normal string `json:"normal"`
		} `json:"image_uris"`
	} `json:"data"`
}

// Search runs a free-text card query and returns up to limit summaries.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Card, error) {
	if limit <= 0 {
		limit = 5
	}
	u := fmt.Sprintf("%s/cards/search?q=%s", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("card search: unexpected status %d", resp.StatusCode)
	}
	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("card search: decode: %w", err)
	}
	out := make([]Card, 0, limit)
	for _, d := range body.Data {
		out = append(out, Card{
			Name:     d.Name,
			SetCode:  d.Set,
			ManaCost: d.ManaCost,
			TypeLine: d.TypeLine,
			Text:     d.Text,
			ImageURL: d.ImageURIs.Normal,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Lookup returns the best match for a query, nil when nothing matched.
func (c *Client) Lookup(ctx context.Context, query string) (*Card, error) {
	results, err := c.Search(ctx, query, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}
