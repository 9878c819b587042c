package n8n

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	replyKeys = []string{"output", "reply", "response", "text", "message"}
	imageKeys = []string{"imageUrls", "images", "urls", "output", "data"}
	urlKeys   = []string{"url", "imageUrl", "image_url"}
)

// parseChatResponse extracts the reply from the shapes n8n workflows produce:
// an object with a reply field, the same object wrapped in an array, a bare
// JSON string, or plain text.
func parseChatResponse(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return string(trimmed)
	}
	return replyFrom(v)
}

func replyFrom(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		if len(t) > 0 {
			return replyFrom(t[0])
		}
	case map[string]any:
		for _, key := range replyKeys {
			if s, ok := t[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func parseImageResponse(raw []byte) (*ImageResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidResponse)
	}

	if !json.Valid(trimmed) {
		return classifyText(string(trimmed))
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return classifyText(string(trimmed))
	}

	result := &ImageResult{}
	switch t := v.(type) {
	case string:
		return classifyText(t)
	case []any:
		for _, item := range t {
			if err := collect(result, item); err != nil {
				return nil, err
			}
		}
	case map[string]any:
		if err := collect(result, t); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unexpected %T", ErrInvalidResponse, v)
	}

	if len(result.URLs) > 0 {
		result.Text = ""
		return result, nil
	}
	if result.Text != "" {
		if isErrorText(result.Text) {
			return nil, fmt.Errorf("%w: %s", ErrUpstream, result.Text)
		}
		return result, nil
	}
	return nil, fmt.Errorf("%w: no images or text", ErrInvalidResponse)
}

func classifyText(s string) (*ImageResult, error) {
	s = strings.TrimSpace(s)
	if isURL(s) {
		return &ImageResult{URLs: []string{s}}, nil
	}
	if isErrorText(s) {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, s)
	}
	return &ImageResult{Text: s}, nil
}

var errorPrefixes = []string{"error:", "error -", "error occurred", "an error occurred", "workflow error", "failed to "}

// isErrorText reports whether a text reply is a failure the workflow wrote
// in-band rather than a question for the user.
func isErrorText(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "error" {
		return true
	}
	for _, prefix := range errorPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func collect(result *ImageResult, item any) error {
	switch t := item.(type) {
	case string:
		if isURL(t) {
			result.URLs = append(result.URLs, strings.TrimSpace(t))
		} else if result.Text == "" {
			result.Text = strings.TrimSpace(t)
		}
	case map[string]any:
		if msg := errorMessage(t["error"]); msg != "" {
			return fmt.Errorf("%w: %s", ErrUpstream, msg)
		}
		for _, key := range urlKeys {
			if s, ok := t[key].(string); ok && isURL(s) {
				result.URLs = append(result.URLs, strings.TrimSpace(s))
			}
		}
		for _, key := range imageKeys {
			switch list := t[key].(type) {
			case []any:
				for _, entry := range list {
					if err := collect(result, entry); err != nil {
						return err
					}
				}
			case string:
				if err := collect(result, list); err != nil {
					return err
				}
			}
		}
		if result.Text == "" {
			result.Text = replyFrom(t)
			if isURL(result.Text) {
				result.Text = ""
			}
		}
		readUsage(result, t)
	}
	return nil
}

// readUsage picks up the workflow's own accounting, either nested under
// "usage" or at the top level.
func readUsage(result *ImageResult, obj map[string]any) {
	src := obj
	if usage, ok := obj["usage"].(map[string]any); ok {
		src = usage
	}
	if cost, ok := number(src["cost"]); ok && !cost.IsNegative() {
		result.Cost = &cost
	}
	for _, key := range []string{"images", "count"} {
		if n, ok := number(src[key]); ok && n.IsPositive() {
			result.Count = int(n.IntPart())
			break
		}
	}
}

func number(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		return d, err == nil
	}
	return decimal.Zero, false
}

func errorMessage(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case bool:
		if t {
			return "workflow reported an error"
		}
	case map[string]any:
		if msg, ok := t["message"].(string); ok && msg != "" {
			return msg
		}
		return "workflow reported an error"
	}
	return ""
}

func isURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
