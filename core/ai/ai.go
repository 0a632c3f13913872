// Package ai wraps the text and image generation backends.
package ai

import "context"

// ContentRequest asks a backend for generated text.
type ContentRequest struct {
	Prompt     string
	Parameters map[string]interface{}
	TemplateID string
}

// ContentGenerator produces text such as song lyrics.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, req ContentRequest) (string, error)
}

// ImageGenerator produces an image and returns a temporary URL to it.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

func floatParam(params map[string]interface{}, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

func intParam(params map[string]interface{}, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func stringParam(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok && v != ""
}
