package gateway

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"gopkg.in/yaml.v3"
)

// Config tunes retrieval and cost derivation. Thresholds and topK are
// deployment policy, not code, so they load from YAML with sane
// defaults.
type Config struct {
	Retrieval struct {
		MemoryThreshold    float64 `yaml:"memory_threshold"`
		SnippetThreshold   float64 `yaml:"snippet_threshold"`
		TopK               int     `yaml:"top_k"`
		EmbeddingDimension int     `yaml:"embedding_dimension"`
	} `yaml:"retrieval"`

	Pricing []model.ModelPrice `yaml:"pricing"`
}

// DefaultConfig returns the built-in tuning values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Retrieval.MemoryThreshold = 0.75
	cfg.Retrieval.SnippetThreshold = 0.70
	cfg.Retrieval.TopK = 10
	cfg.Retrieval.EmbeddingDimension = 768
	cfg.Pricing = []model.ModelPrice{
		{Model: "gemini-2.5-flash", InputPerMTok: 0.30, OutputPerMTok: 2.50},
		{Model: "gemini-2.5-pro", InputPerMTok: 1.25, OutputPerMTok: 10.00},
		{Model: "claude-sonnet-4-5", InputPerMTok: 3.00, OutputPerMTok: 15.00},
	}
	return cfg
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
	}

	if cfg.Retrieval.TopK <= 0 {
		return nil, goerr.New("top_k must be positive", goerr.V("top_k", cfg.Retrieval.TopK))
	}

	return cfg, nil
}

// PriceFor returns the pricing entry for a model name. Unknown models
// cost zero.
func (c *Config) PriceFor(modelName string) model.ModelPrice {
	for _, p := range c.Pricing {
		if p.Model == modelName {
			return p
		}
	}
	return model.ModelPrice{Model: modelName}
}
