package storyboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const defaultTextModel = "gpt-4o"

// OpenAIClient drafts storyboards through an OpenAI-compatible chat
// endpoint using JSON-schema constrained output.
type OpenAIClient struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIClient builds a client for the given key. baseURL is optional and
// points at an OpenAI-compatible gateway when set.
func NewOpenAIClient(apiKey, baseURL, model string, logger *slog.Logger) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if strings.TrimSpace(model) == "" {
		model = defaultTextModel
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logger,
	}
}

type planResponse struct {
	Scenes []ScenePlan `json:"scenes"`
}

func (c *OpenAIClient) PlanScenes(ctx context.Context, req PlanRequest) ([]ScenePlan, error) {
	systemPrompt := "You are a storyboard director for short AI-generated ad videos. " +
		"You break a product idea into distinct visual scenes and write generation-ready prompts. " +
		"Only output JSON."
	userPrompt := fmt.Sprintf(`Break this video idea into exactly %d scenes for a %d second video in %s aspect ratio.

Idea: %s

For each scene provide:
- title: a short label for the scene.
- description: the setting and action, one or two sentences.
- image_prompt: a detailed text-to-image prompt for the scene's key frame. Keep subject, wardrobe, lighting and color grading consistent across all scenes.
- video_prompt: a text-to-video motion prompt for animating that frame. Name a specific camera movement (push-in, tracking shot, pan, tilt, close-up) and the subject's action.

Return exactly %d scenes in order.`, req.SceneCount, req.DurationSeconds, req.AspectRatio, req.Idea, req.SceneCount)

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Model:       c.model,
		Temperature: openai.Float(0.7),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "storyboard",
					Description: openai.String("Scene-by-scene breakdown of a short video"),
					Strict:      openai.Bool(true),
					Schema:      planSchema(),
				},
			},
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		// Some OpenAI-compatible gateways reject json_schema; fall back to
		// plain JSON mode and rely on unmarshal validation.
		if shouldFallbackJSONMode(err) {
			c.logger.Warn("json_schema response format rejected, retrying with json_object", "error", err)
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
			}
			resp, err = c.client.Chat.Completions.New(ctx, params)
		}
	}
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("model returned no choices")
	}
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	if raw == "" {
		return nil, errors.New("model returned an empty message")
	}

	var parsed planResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse storyboard response: %w", err)
	}
	return parsed.Scenes, nil
}

func shouldFallbackJSONMode(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "json_schema") || strings.Contains(msg, "response_format")
}

func planSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"scenes"},
		"properties": map[string]interface{}{
			"scenes": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"title", "description", "image_prompt", "video_prompt"},
					"properties": map[string]interface{}{
						"title": map[string]interface{}{
							"type": "string",
						},
						"description": map[string]interface{}{
							"type": "string",
						},
						"image_prompt": map[string]interface{}{
							"type": "string",
						},
						"video_prompt": map[string]interface{}{
							"type": "string",
						},
					},
				},
			},
		},
	}
}
