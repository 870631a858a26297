package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	maxResponseSize = 1 << 20
	maxErrorLogLen  = 200
)

const systemPrompt = `You are a nutrition analyst. Identify every distinct food item in the photo.
Answer with a single JSON object and nothing else:
{"items":[{"name":string,"quantity":number,"unit":string,"confidence":number between 0 and 1,
"calories":number,"protein_g":number,"carbs_g":number,"fat_g":number,"fiber_g":number}],
"total":{"calories":number,"protein_g":number,"carbs_g":number,"fat_g":number,"fiber_g":number},
"notes":string}
Return {"items":[]} if the photo contains no food.`

func (c *Client) Name() string { return "primary" }

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.cfg.APIKey != "" }

// Recognize performs exactly one upstream call. Retries and the overall
// deadline belong to the caller.
func (c *Client) Recognize(parentCtx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if len(req.Image) == 0 {
		return nil, fmt.Errorf("vision: empty image")
	}

	if c.pacer != nil {
		if err := c.pacer.Wait(parentCtx); err != nil {
			return nil, fmt.Errorf("vision: pacing: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.AttemptTimeout)
	defer cancel()

	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("vision: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("vision: build HTTP request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("vision upstream request failed",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("vision: upstream call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp)
		c.logger.Warn("vision provider rate limited",
			zap.Duration("retry_after", retryAfter),
		)
		return nil, &RateLimitedError{Provider: c.Name(), RetryAfter: retryAfter}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))

		var perr providerErrorResponse
		if err := json.Unmarshal(raw, &perr); err == nil && perr.Error.Message != "" {
			c.logger.Error("vision provider error",
				zap.Int("status", resp.StatusCode),
				zap.String("error_type", perr.Error.Type),
				zap.String("error_message", truncate(perr.Error.Message, maxErrorLogLen)),
			)
		} else {
			c.logger.Error("vision upstream error",
				zap.Int("status", resp.StatusCode),
				zap.String("body", truncate(string(raw), maxErrorLogLen)),
			)
		}
		return nil, &StatusError{
			Provider:   c.Name(),
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), maxErrorLogLen),
		}
	}

	var pResp providerChatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&pResp); err != nil {
		return nil, fmt.Errorf("vision: decode upstream response: %w: %w", ErrMalformedResponse, err)
	}
	if len(pResp.Choices) == 0 {
		return nil, fmt.Errorf("vision: provider returned no choices: %w", ErrMalformedResponse)
	}

	out, err := parseMealPayload(pResp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	c.logger.Info("vision request completed",
		zap.String("model", pResp.Model),
		zap.Int("items", len(out.Items)),
		zap.Duration("duration", time.Since(start)),
	)

	return out, nil
}

func (c *Client) buildRequest(req Request) providerChatRequest {
	prompt := "Analyze this meal photo."
	if req.CategoryHint != "" {
		prompt += " The meal is " + req.CategoryHint + "."
	}

	dataURL := "data:" + req.ContentType + ";base64," + base64.StdEncoding.EncodeToString(req.Image)

	return providerChatRequest{
		Model: c.cfg.Model,
		Messages: []providerMessage{
			{Role: "system", Content: []contentPart{{Type: "text", Text: systemPrompt}}},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL, Detail: "low"}},
			}},
		},
		Temperature:    0,
		MaxTokens:      800,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
}

// parseMealPayload turns the assistant message content into a Response.
// Models sometimes wrap JSON in a markdown fence; that is tolerated.
func parseMealPayload(content string) (*Response, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var payload mealPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("vision: decode meal payload: %w: %w", ErrMalformedResponse, err)
	}

	out := &Response{
		Items: make([]Item, 0, len(payload.Items)),
		Notes: payload.Notes,
	}

	for _, it := range payload.Items {
		item := Item{
			Name:       it.Name,
			Quantity:   it.Quantity,
			Unit:       it.Unit,
			Confidence: it.Confidence,
		}
		if it.Calories != nil {
			item.Nutrients = &Nutrients{
				Calories: *it.Calories,
				ProteinG: deref(it.ProteinG),
				CarbsG:   deref(it.CarbsG),
				FatG:     deref(it.FatG),
				FiberG:   it.FiberG,
			}
		}
		out.Items = append(out.Items, item)
	}

	if payload.Total != nil {
		out.Aggregate = &Nutrients{
			Calories: payload.Total.Calories,
			ProteinG: payload.Total.ProteinG,
			CarbsG:   payload.Total.CarbsG,
			FatG:     payload.Total.FatG,
			FiberG:   payload.Total.FiberG,
		}
	}

	return out, nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
