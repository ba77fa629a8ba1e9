// Package generation wraps the external image/video generation service:
// start a prediction, poll it to a terminal status, classify failures, and
// retry the transient ones.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// PredictionStatus is the provider-side lifecycle of one generation request.
type PredictionStatus string

const (
	StatusStarting   PredictionStatus = "starting"
	StatusProcessing PredictionStatus = "processing"
	StatusSucceeded  PredictionStatus = "succeeded"
	StatusFailed     PredictionStatus = "failed"
)

// Prediction is one observed provider status. Output holds media URLs once
// the prediction succeeds.
type Prediction struct {
	ID     string
	Status PredictionStatus
	Output []string
	Error  string
}

// Terminal reports whether the prediction has finished, either way.
func (p Prediction) Terminal() bool {
	return p.Status == StatusSucceeded || p.Status == StatusFailed
}

// ImageRequest describes one image generation call.
type ImageRequest struct {
	Model          string
	Prompt         string
	NegativePrompt string
	SeedImageURL   string
	ReferenceURLs  []string
	AspectRatio    string
}

// VideoRequest describes one image-to-video generation call.
type VideoRequest struct {
	Model         string
	Prompt        string
	StartImageURL string
	AspectRatio   string
	Duration      float64
}

// Client is the generation provider contract.
type Client interface {
	StartImage(ctx context.Context, req ImageRequest) (string, error)
	StartVideo(ctx context.Context, req VideoRequest) (string, error)
	Status(ctx context.Context, predictionID string) (Prediction, error)
}

// PollOptions bounds one poll loop.
type PollOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	// OnProgress is invoked on every observed status, terminal or not, so
	// callers can surface progress without owning the loop.
	OnProgress func(Prediction)
}

// Poll queries the prediction until it reaches a terminal status or the
// timeout elapses. A timeout yields a terminal failed prediction with a
// timeout-specific message rather than an error; transient status-query
// failures are skipped and the loop keeps going.
func Poll(ctx context.Context, c Client, predictionID string, opts PollOptions) (Prediction, error) {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}

	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Prediction{ID: predictionID}, ctx.Err()
		case <-ticker.C:
		}

		pred, err := c.Status(ctx, predictionID)
		if err != nil {
			if !IsRetryable(err) {
				return Prediction{ID: predictionID}, err
			}
			// Transient query fault: keep polling until the deadline.
			if time.Now().After(deadline) {
				return timeoutPrediction(predictionID, opts.Timeout), nil
			}
			continue
		}

		if opts.OnProgress != nil {
			opts.OnProgress(pred)
		}
		if pred.Terminal() {
			return pred, nil
		}
		if time.Now().After(deadline) {
			return timeoutPrediction(predictionID, opts.Timeout), nil
		}
	}
}

func timeoutPrediction(id string, timeout time.Duration) Prediction {
	return Prediction{
		ID:     id,
		Status: StatusFailed,
		Error:  fmt.Sprintf("no terminal status within %s (poll budget exhausted)", timeout),
	}
}

// RunImage starts one image prediction and polls it to completion. A failed
// prediction is returned as a classified taxonomy error so retry policies
// can decide whether to try again.
func RunImage(ctx context.Context, c Client, req ImageRequest, opts PollOptions) (Prediction, error) {
	if req.Prompt == "" {
		return Prediction{}, NewError(KindValidation, "generate image", "prompt must not be empty")
	}

	id, err := c.StartImage(ctx, req)
	if err != nil {
		return Prediction{}, err
	}
	return finishRun(ctx, c, "generate image", id, opts)
}

// RunVideo starts one video prediction and polls it to completion.
func RunVideo(ctx context.Context, c Client, req VideoRequest, opts PollOptions) (Prediction, error) {
	if req.Prompt == "" {
		return Prediction{}, NewError(KindValidation, "generate video", "prompt must not be empty")
	}
	if req.StartImageURL == "" {
		return Prediction{}, NewError(KindValidation, "generate video", "start image must be set")
	}

	id, err := c.StartVideo(ctx, req)
	if err != nil {
		return Prediction{}, err
	}
	return finishRun(ctx, c, "generate video", id, opts)
}

func finishRun(ctx context.Context, c Client, op, id string, opts PollOptions) (Prediction, error) {
	pred, err := Poll(ctx, c, id, opts)
	if err != nil {
		return pred, err
	}
	if pred.Status == StatusFailed {
		return pred, &Error{
			Kind:    classifyFailure(pred.Error),
			Op:      op,
			Message: pred.Error,
		}
	}
	if len(pred.Output) == 0 {
		return pred, NewError(KindExternal, op, "prediction succeeded with no output")
	}
	return pred, nil
}

// StubClient is a no-provider stand-in. Predictions succeed immediately
// with placeholder output, which keeps the engine exercisable without
// credentials.
type StubClient struct {
	logger *slog.Logger
}

func NewStubClient(logger *slog.Logger) *StubClient {
	return &StubClient{logger: logger}
}

func (c *StubClient) StartImage(ctx context.Context, req ImageRequest) (string, error) {
	id := "stub-img-" + uuid.NewString()
	c.logger.Info("generation stub: image generation requested",
		"prediction_id", id,
		"model", req.Model,
		"has_seed", req.SeedImageURL != "",
		"reference_count", len(req.ReferenceURLs),
	)
	return id, nil
}

func (c *StubClient) StartVideo(ctx context.Context, req VideoRequest) (string, error) {
	id := "stub-vid-" + uuid.NewString()
	c.logger.Info("generation stub: video generation requested",
		"prediction_id", id,
		"model", req.Model,
	)
	return id, nil
}

func (c *StubClient) Status(ctx context.Context, predictionID string) (Prediction, error) {
	return Prediction{
		ID:     predictionID,
		Status: StatusSucceeded,
		Output: []string{"stub://" + predictionID},
	}, nil
}
