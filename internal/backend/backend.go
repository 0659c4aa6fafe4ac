package backend

import (
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"VirtualDoctor/internal/config"
)

// Endpoint describes an OpenAI-compatible chat completions provider
type Endpoint struct {
	Name         string
	BaseURL      string
	DefaultModel string
}

var endpoints = map[string]Endpoint{
	config.BackendGroq: {
		Name:         config.BackendGroq,
		BaseURL:      "https://api.groq.com/openai/v1",
		DefaultModel: "llama3-70b-8192",
	},
	config.BackendOpenAI: {
		Name:         config.BackendOpenAI,
		BaseURL:      "https://api.openai.com/v1",
		DefaultModel: "gpt-4o-mini",
	},
	config.BackendOllama: {
		Name:         config.BackendOllama,
		BaseURL:      "http://localhost:11434/v1",
		DefaultModel: "llama3:latest",
	},
}

// Lookup returns the endpoint registered for name
func Lookup(name string) (Endpoint, error) {
	ep, ok := endpoints[name]
	if !ok {
		return Endpoint{}, fmt.Errorf("unknown backend: %s", name)
	}
	return ep, nil
}

// Resolve applies the configured base URL and model overrides to the
// backend's endpoint.
func Resolve(cfg config.Config) (Endpoint, error) {
	ep, err := Lookup(cfg.Backend)
	if err != nil {
		return Endpoint{}, err
	}
	if cfg.BaseURL != "" {
		ep.BaseURL = cfg.BaseURL
	}
	if cfg.Model != "" {
		ep.DefaultModel = cfg.Model
	}
	return ep, nil
}

// NewClient builds a go-openai client for the configured backend. The
// returned model is the one every completion request is sent with.
func NewClient(cfg config.Config, httpClient *http.Client) (*openai.Client, string, error) {
	ep, err := Resolve(cfg)
	if err != nil {
		return nil, "", err
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = ep.BaseURL
	if httpClient != nil {
		apiCfg.HTTPClient = httpClient
	}

	return openai.NewClientWithConfig(apiCfg), ep.DefaultModel, nil
}
