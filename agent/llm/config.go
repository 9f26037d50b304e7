package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/dmelendez/enerbot/agent/contract"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float64       `envconfig:"TEMPERATURE" split_words:"true" default:"0.7"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`

	ReflectionModel       string  `envconfig:"REFLECTION_MODEL" split_words:"true"`
	ReflectionTemperature float64 `envconfig:"REFLECTION_TEMPERATURE" split_words:"true" default:"0.3"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: llm api key is required", contractx.ErrConfiguration)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: llm model is required", contractx.ErrConfiguration)
	}
	return nil
}

// ReflectionModelName falls back to the decision model when no dedicated
// reflection model is configured.
func (c Config) ReflectionModelName() string {
	if v := strings.TrimSpace(c.ReflectionModel); v != "" {
		return v
	}
	return strings.TrimSpace(c.Model)
}
