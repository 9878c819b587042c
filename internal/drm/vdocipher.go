package drm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/AssistantHub/internal/config"
)

var (
	ErrNotConfigured = errors.New("video drm is not configured")
	ErrInvalidVideo  = errors.New("video id is required")
)

const otpTTL = 300

// Playback is the one-time credential a player needs to stream a protected video.
type Playback struct {
	OTP          string `json:"otp"`
	PlaybackInfo string `json:"playbackInfo"`
}

// Client issues VdoCipher playback OTPs for course videos.
type Client struct {
	apiSecret  string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	return &Client{
		apiSecret: cfg.VdoCipherAPISecret,
		baseURL:   strings.TrimRight(cfg.VdoCipherBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

func (c *Client) Playback(ctx context.Context, videoID string) (*Playback, error) {
	if c.apiSecret == "" {
		return nil, ErrNotConfigured
	}
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return nil, ErrInvalidVideo
	}

	endpoint := fmt.Sprintf("%s/api/videos/%s/otp", c.baseURL, url.PathEscape(videoID))
	body, err := json.Marshal(map[string]int{"ttl": otpTTL})
	if err != nil {
		return nil, fmt.Errorf("marshal otp request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Apisecret "+c.apiSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request otp: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read otp response: %w", err)
	}
	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("vdocipher otp failed", "status", resp.StatusCode, "video_id", videoID)
		}
		return nil, fmt.Errorf("vdocipher error: status=%d", resp.StatusCode)
	}

	var playback Playback
	if err := json.Unmarshal(rawBody, &playback); err != nil {
		return nil, fmt.Errorf("decode otp response: %w", err)
	}
	if playback.OTP == "" {
		return nil, fmt.Errorf("empty otp in response")
	}
	return &playback, nil
}
