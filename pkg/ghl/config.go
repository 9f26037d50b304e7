package ghl

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/dmelendez/enerbot/agent/contract"
)

type Config struct {
	BaseURL    string        `envconfig:"BASE_URL" split_words:"true" default:"https://services.leadconnectorhq.com"`
	APIKey     string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	LocationID string        `envconfig:"LOCATION_ID" split_words:"true"`
	CalendarID string        `envconfig:"CALENDAR_ID" split_words:"true"`
	APIVersion string        `envconfig:"API_VERSION" split_words:"true" default:"2021-07-28"`
	Timeout    time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: ghl api key is required", contractx.ErrConfiguration)
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("%w: ghl base url is required", contractx.ErrConfiguration)
	}
	return nil
}
