package platforms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"freebooter/internal/config"
)

type OllamaPlatform struct {
	client *api.Client
}

// NewOllamaPlatform uses settings.Host when set and OLLAMA_HOST otherwise.
func NewOllamaPlatform(settings *config.OllamaPlatformConfig) (*OllamaPlatform, error) {
	if settings != nil && settings.Host != "" {
		base, err := url.Parse(settings.Host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host: %w", err)
		}
		return &OllamaPlatform{client: api.NewClient(base, &http.Client{Timeout: 5 * time.Minute})}, nil
	}

	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return &OllamaPlatform{client: client}, nil
}

func (o *OllamaPlatform) Client() *api.Client { return o.client }

// Complete sends one non-streaming generate request and returns the response text.
func (o *OllamaPlatform) Complete(ctx context.Context, request *api.GenerateRequest) (string, error) {
	if request.Model == "" {
		return "", fmt.Errorf("ollama: model cannot be empty")
	}

	stream := false
	request.Stream = &stream

	var out string
	err := o.client.Generate(ctx, request, func(resp api.GenerateResponse) error {
		out += resp.Response
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate failed: %w", err)
	}
	return out, nil
}
