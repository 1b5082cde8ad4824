package llm

import (
	"log/slog"
	"os"
	"strings"
)

const (
	// DefaultBaseURL is the standard OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when OPENAI_MODEL is not set.
	DefaultModel = "gpt-4o"

	apiKeySecretPath = "/run/secrets/openai_api_key"
)

// ClientConfig is read once at startup and never mutated afterwards.
type ClientConfig struct {
	APIKey  *Credential
	BaseURL string
	Model   string
	// ProxyURL routes outbound model requests through a forward proxy.
	// Empty disables proxying.
	ProxyURL string
}

// ConfigFromEnv builds a ClientConfig from the process environment.
//
// # Description
//
// Reads OPENAI_API_KEY (falling back to the Podman secret file), OPENAI_BASE_URL,
// OPENAI_MODEL and HTTPS_PROXY / HTTP_PROXY. A missing key is not an error
// here; NewOpenAIClient reports it.
//
// # Outputs
//
//   - ClientConfig: Configuration with defaults applied
func ConfigFromEnv() ClientConfig {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		if raw, err := os.ReadFile(apiKeySecretPath); err == nil {
			apiKey = strings.TrimSpace(string(raw))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		}
	}
	proxyURL := os.Getenv("HTTPS_PROXY")
	if proxyURL == "" {
		proxyURL = os.Getenv("HTTP_PROXY")
	}
	cfg := ClientConfig{
		APIKey:   NewCredential(apiKey),
		BaseURL:  os.Getenv("OPENAI_BASE_URL"),
		Model:    os.Getenv("OPENAI_MODEL"),
		ProxyURL: proxyURL,
	}
	return cfg.withDefaults()
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
		slog.Warn("OPENAI_MODEL not set, using default", "model", DefaultModel)
	}
	return c
}
