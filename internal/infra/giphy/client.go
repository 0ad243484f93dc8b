package giphy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tg-assist-bot/internal/infra/metrics"
)

const defaultBaseURL = "https://api.giphy.com/v1"

// ErrNoResults возвращается, если по запросу ничего не найдено.
var ErrNoResults = errors.New("giphy: no results")

// Client ищет гифки через Giphy API.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient создаёт клиента Giphy.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type searchResponse struct {
	Data []struct {
		Images struct {
			Original struct {
				URL string `json:"url"`
			} `json:"original"`
		} `json:"images"`
	} `json:"data"`
}

// SearchGif возвращает URL первой найденной гифки.
func (c *Client) SearchGif(ctx context.Context, term string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("giphy: api key is empty")
	}
	query := url.Values{}
	query.Set("api_key", c.apiKey)
	query.Set("q", term)
	query.Set("limit", "1")
	endpoint := c.baseURL + "/gifs/search?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("giphy: build request: %w", err)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("giphy", "search", "gifs", start, err)
		return "", fmt.Errorf("giphy: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("giphy", "search", "gifs", start, err)
		return "", fmt.Errorf("giphy: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		err = fmt.Errorf("giphy: unexpected status %d", resp.StatusCode)
		metrics.ObserveNetworkRequest("giphy", "search", "gifs", start, err)
		return "", err
	}
	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		metrics.ObserveNetworkRequest("giphy", "search", "gifs", start, err)
		return "", fmt.Errorf("giphy: decode response: %w", err)
	}
	metrics.ObserveNetworkRequest("giphy", "search", "gifs", start, nil)
	if len(out.Data) == 0 || out.Data[0].Images.Original.URL == "" {
		return "", ErrNoResults
	}
	return out.Data[0].Images.Original.URL, nil
}
