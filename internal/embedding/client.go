package embedding

import (
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
)

// ClientConfig selects an OpenAI or Azure OpenAI endpoint.
type ClientConfig struct {
	APIKey string
	// BaseURL overrides the OpenAI API base URL.
	BaseURL string
	// AzureEndpoint switches the client to Azure OpenAI; the model name is then the deployment name.
	AzureEndpoint   string
	AzureAPIVersion string
	// MaxRetries is the SDK's own retry count. Retries are normally left to the Embedder.
	MaxRetries int
}

// DefaultAzureAPIVersion is used when ClientConfig.AzureAPIVersion is empty.
const DefaultAzureAPIVersion = "2024-02-01"

// NewClient creates an OpenAI client for embedding generation.
// An empty APIKey falls back to OPENAI_API_KEY and fails if neither is set.
func NewClient(cfg ClientConfig) (*openai.Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("embedding api key not set (OPENAI_API_KEY)")
	}

	opts := []option.RequestOption{option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.AzureEndpoint != "" {
		version := cfg.AzureAPIVersion
		if version == "" {
			version = DefaultAzureAPIVersion
		}
		opts = append(opts,
			azure.WithEndpoint(cfg.AzureEndpoint, version),
			azure.WithAPIKey(apiKey),
		)
	} else {
		opts = append(opts, option.WithAPIKey(apiKey))
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	}

	client := openai.NewClient(opts...)
	return &client, nil
}
