package generation

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	maxResponseBytes = 1 << 20 // prediction payloads carry logs; keep a sane cap
	maxErrorBytes    = 4096
)

// HTTPClient talks to a predictions-style generation provider:
// POST {base}/v1/predictions starts one, GET {base}/v1/predictions/{id}
// reports it. Providers disagree on payload details, so requests are shaped
// field-by-field and responses are read leniently.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(baseURL, token string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

func (c *HTTPClient) StartImage(ctx context.Context, req ImageRequest) (string, error) {
	payload, _ := sjson.Set("{}", "model", req.Model)
	payload, _ = sjson.Set(payload, "input.prompt", req.Prompt)
	payload, _ = sjson.Set(payload, "input.num_outputs", 1)
	if req.AspectRatio != "" {
		payload, _ = sjson.Set(payload, "input.aspect_ratio", req.AspectRatio)
	}
	if req.NegativePrompt != "" {
		payload, _ = sjson.Set(payload, "input.negative_prompt", req.NegativePrompt)
	}
	if req.SeedImageURL != "" {
		payload, _ = sjson.Set(payload, "input.image", req.SeedImageURL)
	}
	if len(req.ReferenceURLs) > 0 {
		payload, _ = sjson.Set(payload, "input.reference_images", req.ReferenceURLs)
	}

	return c.startPrediction(ctx, "image", payload)
}

func (c *HTTPClient) StartVideo(ctx context.Context, req VideoRequest) (string, error) {
	payload, _ := sjson.Set("{}", "model", req.Model)
	payload, _ = sjson.Set(payload, "input.prompt", req.Prompt)
	payload, _ = sjson.Set(payload, "input.start_image", req.StartImageURL)
	if req.AspectRatio != "" {
		payload, _ = sjson.Set(payload, "input.aspect_ratio", req.AspectRatio)
	}
	if req.Duration > 0 {
		payload, _ = sjson.Set(payload, "input.duration", req.Duration)
	}

	return c.startPrediction(ctx, "video", payload)
}

func (c *HTTPClient) startPrediction(ctx context.Context, kind, payload string) (string, error) {
	url := c.baseURL + "/v1/predictions"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("X-Request-Id", generateRequestID())

	c.logger.Info("starting prediction",
		"kind", kind,
		"model", gjson.Get(payload, "model").String(),
		"body_bytes", len(payload),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return "", &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read provider response: %w", err)
	}

	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return "", NewError(KindExternal, "start prediction", "provider response missing prediction id")
	}

	c.logger.Info("prediction started", "kind", kind, "prediction_id", id)
	return id, nil
}

func (c *HTTPClient) Status(ctx context.Context, predictionID string) (Prediction, error) {
	url := c.baseURL + "/v1/predictions/" + predictionID

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Prediction{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Prediction{}, fmt.Errorf("provider status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return Prediction{}, &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Prediction{}, fmt.Errorf("read provider response: %w", err)
	}

	return parsePrediction(predictionID, body), nil
}

// parsePrediction reads the loosely-shaped provider JSON: status vocabulary
// varies by provider and output may be a single URL or an array.
func parsePrediction(id string, body []byte) Prediction {
	pred := Prediction{ID: id}

	if gotID := gjson.GetBytes(body, "id").String(); gotID != "" {
		pred.ID = gotID
	}

	switch gjson.GetBytes(body, "status").String() {
	case "starting", "queued", "pending":
		pred.Status = StatusStarting
	case "processing", "running", "in_progress":
		pred.Status = StatusProcessing
	case "succeeded", "completed", "success":
		pred.Status = StatusSucceeded
	case "canceled", "cancelled":
		pred.Status = StatusFailed
		pred.Error = "canceled by provider"
	case "failed", "error":
		pred.Status = StatusFailed
	default:
		pred.Status = StatusStarting
	}

	if msg := gjson.GetBytes(body, "error").String(); msg != "" {
		pred.Error = msg
	}

	output := gjson.GetBytes(body, "output")
	switch {
	case output.IsArray():
		for _, item := range output.Array() {
			if s := item.String(); s != "" {
				pred.Output = append(pred.Output, s)
			}
		}
	case output.Type == gjson.String:
		pred.Output = []string{output.String()}
	}

	return pred
}

func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}
