package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/ferd/sift/internal/models"
)

type SearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
	// ModelID is the deployed inference model text_expansion runs against.
	ModelID string
	// ElserField is the rank_features field holding the expansions.
	ElserField string
	Timeout    time.Duration
	Transport  http.RoundTripper // overridable for tests
}

// Client issues ELSER semantic searches against the configured index.
type Client struct {
	config SearchConfig
	es     *elasticsearch.Client
}

func NewWithConfig(config SearchConfig) (*Client, error) {
	if config.URL == "" {
		config.URL = "http://localhost:9200"
	}
	if config.Index == "" {
		config.Index = "oracle_elser_index_v2"
	}
	if config.ModelID == "" {
		config.ModelID = "elser-oracle"
	}
	if config.ElserField == "" {
		config.ElserField = "ml.inference.body_expanded"
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{config.URL},
		Username:  config.Username,
		Password:  config.Password,
		Transport: config.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Elasticsearch client: %v", err)
	}

	return &Client{
		config: config,
		es:     es,
	}, nil
}

// Info returns the server version, for the banner.
func (c *Client) Info(ctx context.Context) (string, error) {
	res, err := c.es.Info(c.es.Info.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("elasticsearch at %s unreachable: %v", c.config.URL, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return "", fmt.Errorf("elasticsearch at %s returned %s", c.config.URL, res.Status())
	}

	var info struct {
		Version struct {
			Number string `json:"number"`
		} `json:"version"`
	}
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("failed to parse info response: %v", err)
	}
	return info.Version.Number, nil
}

// Search runs one text_expansion query and returns the ranked hits. The
// query body shape tracks the server's API version, so it is assembled
// from configuration rather than fixed types.
func (c *Client) Search(ctx context.Context, query string, size int) ([]models.SearchHit, error) {
	if size <= 0 {
		size = 5
	}
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	body := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"text_expansion": map[string]interface{}{
				c.config.ElserField: map[string]interface{}{
					"model_id":   c.config.ModelID,
					"model_text": query,
				},
			},
		},
		"_source": []string{"id", "title", "body", "content", "updated_at"},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("failed to encode query: %v", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.config.Index),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("search against %s failed: %v", c.config.URL, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("search against %s/%s returned %s: %s",
			c.config.URL, c.config.Index, res.Status(), bytes.TrimSpace(snippet))
	}

	var sr struct {
		Hits struct {
			Hits []struct {
				Score  float64 `json:"_score"`
				Source struct {
					ID        string `json:"id"`
					Title     string `json:"title"`
					Body      string `json:"body"`
					Content   string `json:"content"`
					UpdatedAt string `json:"updated_at"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %v", err)
	}

	hits := make([]models.SearchHit, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		body := h.Source.Body
		if body == "" {
			body = h.Source.Content
		}
		hits = append(hits, models.SearchHit{
			Score:     h.Score,
			ID:        h.Source.ID,
			Title:     h.Source.Title,
			Body:      body,
			UpdatedAt: h.Source.UpdatedAt,
		})
	}

	return hits, nil
}
