package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tg-assist-bot/internal/infra/metrics"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ErrOverloaded помечает перегрузку провайдера — единственный класс
// ошибок, для которого выполняются повторы.
var ErrOverloaded = errors.New("gemini: model is overloaded")

// ErrEmptyCandidates возвращается, когда ответ пришёл без контента
// (например, сработал safety-фильтр).
var ErrEmptyCandidates = errors.New("gemini: response contains no candidates")

// Client выполняет запросы generateContent.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
	retry   RetryPolicy
}

// RetryPolicy задаёт повторы с экспоненциальной выдержкой. Повторы
// применяются только к ErrOverloaded, остальные классы падают сразу.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy: 3 попытки, 1s стартовая задержка, множитель 2.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, Multiplier: 2.0}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	return d
}

// NewClient создаёт клиента Gemini.
func NewClient(apiKey, baseURL, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if model == "" {
		model = "gemini-1.5-flash-latest"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		retry:   DefaultRetryPolicy(),
	}
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateReply возвращает текстовый ответ модели с учётом системного контекста.
func (c *Client) GenerateReply(ctx context.Context, system string, message string) (string, error) {
	req := generateRequest{Contents: []content{{Parts: []part{{Text: message}}}}}
	if system != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}
	resp, err := c.generate(ctx, "generate_reply", req)
	if err != nil {
		return "", err
	}
	return firstText(resp)
}

// GenerateImage генерирует изображение по описанию.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	req := generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}}
	resp, err := c.generate(ctx, "generate_image", req)
	if err != nil {
		return nil, err
	}
	return firstImage(resp)
}

// AnalyzeImage описывает присланное изображение.
func (c *Client) AnalyzeImage(ctx context.Context, image []byte, prompt string) (string, error) {
	if prompt == "" {
		prompt = "Describe this image in a couple of sentences."
	}
	req := generateRequest{Contents: []content{{Parts: []part{
		{Text: prompt},
		{InlineData: &inlineData{MimeType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(image)}},
	}}}}
	resp, err := c.generate(ctx, "analyze_image", req)
	if err != nil {
		return "", err
	}
	return firstText(resp)
}

// StylizeImage возвращает мультяшную версию изображения.
func (c *Client) StylizeImage(ctx context.Context, image []byte) ([]byte, error) {
	req := generateRequest{Contents: []content{{Parts: []part{
		{Text: "Redraw this photo as a colorful cartoon."},
		{InlineData: &inlineData{MimeType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(image)}},
	}}}}
	resp, err := c.generate(ctx, "stylize_image", req)
	if err != nil {
		return nil, err
	}
	return firstImage(resp)
}

func (c *Client) generate(ctx context.Context, operation string, req generateRequest) (generateResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		resp, err := c.doGenerate(ctx, operation, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.Is(err, ErrOverloaded) || attempt == c.retry.MaxAttempts {
			return generateResponse{}, err
		}
		select {
		case <-ctx.Done():
			return generateResponse{}, ctx.Err()
		case <-time.After(c.retry.delay(attempt)):
		}
	}
	return generateResponse{}, lastErr
}

func (c *Client) doGenerate(ctx context.Context, operation string, req generateRequest) (generateResponse, error) {
	if c.apiKey == "" {
		return generateResponse{}, fmt.Errorf("gemini: api key is empty")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return generateResponse{}, fmt.Errorf("gemini: marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return generateResponse{}, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.ObserveNetworkRequest("gemini", operation, c.model, start, err)
		return generateResponse{}, fmt.Errorf("gemini: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("gemini", operation, c.model, start, err)
		return generateResponse{}, fmt.Errorf("gemini: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		err = classifyStatus(resp.StatusCode, respBody)
		metrics.ObserveNetworkRequest("gemini", operation, c.model, start, err)
		return generateResponse{}, err
	}
	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		metrics.ObserveNetworkRequest("gemini", operation, c.model, start, err)
		return generateResponse{}, fmt.Errorf("gemini: decode response: %w", err)
	}
	metrics.ObserveNetworkRequest("gemini", operation, c.model, start, nil)
	return out, nil
}

// classifyStatus выделяет перегрузку провайдера в отдельный класс.
func classifyStatus(code int, body []byte) error {
	var apiErr apiErrorResponse
	message := fmt.Sprintf("unexpected status %d", code)
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}
	if code == http.StatusServiceUnavailable || apiErr.Error.Status == "UNAVAILABLE" {
		return fmt.Errorf("%w: %s", ErrOverloaded, message)
	}
	return fmt.Errorf("gemini: %s", message)
}

func firstText(resp generateResponse) (string, error) {
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if strings.TrimSpace(p.Text) != "" {
				return p.Text, nil
			}
		}
	}
	return "", ErrEmptyCandidates
}

func firstImage(resp generateResponse) ([]byte, error) {
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				return base64.StdEncoding.DecodeString(p.InlineData.Data)
			}
		}
	}
	return nil, ErrEmptyCandidates
}
