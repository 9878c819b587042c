package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/digkill/AssistantHub/internal/config"
)

// maxResponseBytes caps how much of a workflow response is read.
const maxResponseBytes = 4 << 20

var (
	ErrNotConfigured   = errors.New("workflow webhook is not configured")
	ErrUpstream        = errors.New("workflow webhook failed")
	ErrInvalidResponse = errors.New("workflow webhook returned an unrecognized response")
)

// Client calls the inference workflows exposed as n8n webhooks. Chat and image
// generation run on separate workflows with separate deadlines.
type Client struct {
	chatURL      string
	imageURL     string
	chatTimeout  time.Duration
	imageTimeout time.Duration
	httpClient   *http.Client
	log          *slog.Logger
}

type ChatRequest struct {
	Message      string   `json:"message"`
	UserID       string   `json:"userId"`
	ProjectSlug  string   `json:"projectSlug"`
	ThreadID     string   `json:"threadId"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	FileURLs     []string `json:"fileUrls,omitempty"`
}

type ImageRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"userId"`
	ProjectID int64  `json:"projectId,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
	Model     string `json:"model"`
	Quality   string `json:"quality"`
	NumImages int    `json:"numImages"`
	ImageSize string `json:"imageSize,omitempty"`
}

// ImageResult is the classified image workflow response. Exactly one of URLs
// or Text is populated.
type ImageResult struct {
	URLs []string
	Text string
	// Cost and Count are set when the workflow reports its own usage.
	Cost  *decimal.Decimal
	Count int
}

// IsText reports whether the workflow answered with a clarification instead of images.
func (r *ImageResult) IsText() bool {
	return len(r.URLs) == 0 && r.Text != ""
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	chatTimeout := cfg.ChatTimeout
	if chatTimeout <= 0 {
		chatTimeout = 30 * time.Second
	}
	imageTimeout := cfg.ImageTimeout
	if imageTimeout <= 0 {
		imageTimeout = 180 * time.Second
	}
	return &Client{
		chatURL:      cfg.ChatWebhookURL,
		imageURL:     cfg.ImageWebhookURL,
		chatTimeout:  chatTimeout,
		imageTimeout: imageTimeout,
		httpClient:   &http.Client{},
		log:          log,
	}
}

func (c *Client) ChatEnabled() bool {
	return c.chatURL != ""
}

func (c *Client) ImagesEnabled() bool {
	return c.imageURL != ""
}

// Chat sends one user turn and returns the assistant reply text.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if !c.ChatEnabled() {
		return "", ErrNotConfigured
	}
	raw, err := c.post(ctx, c.chatURL, c.chatTimeout, req)
	if err != nil {
		return "", err
	}
	reply := parseChatResponse(raw)
	if reply == "" {
		return "", fmt.Errorf("%w: body=%s", ErrInvalidResponse, truncateBody(raw))
	}
	return reply, nil
}

// GenerateImages runs the image workflow and classifies its answer.
func (c *Client) GenerateImages(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if !c.ImagesEnabled() {
		return nil, ErrNotConfigured
	}
	raw, err := c.post(ctx, c.imageURL, c.imageTimeout, req)
	if err != nil {
		return nil, err
	}
	result, err := parseImageResponse(raw)
	if err != nil {
		if c.log != nil {
			c.log.Error("image workflow response rejected", "err", err, "body", truncateBody(raw))
		}
		return nil, err
	}
	if c.log != nil {
		c.log.Info("image workflow completed", "images", len(result.URLs), "text", result.IsText())
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, endpoint string, timeout time.Duration, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.log != nil {
			c.log.Error("workflow request failed", "url", endpoint, "err", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", ErrUpstream, err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("workflow returned error status", "status", resp.StatusCode, "url", endpoint, "body", truncateBody(rawBody))
		}
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrUpstream, resp.StatusCode, truncateBody(rawBody))
	}
	return rawBody, nil
}

// truncateBody shortens a body for logs without splitting a UTF-8 sequence.
func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
