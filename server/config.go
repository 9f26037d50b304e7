package server

import "time"

type Config struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" split_words:"true" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" split_words:"true" default:"60s"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" split_words:"true" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" split_words:"true" default:"10s"`

	// Meta webhook credentials. Empty values disable the Meta endpoints.
	MetaVerifyToken string `envconfig:"META_VERIFY_TOKEN" split_words:"true"`
	MetaAppSecret   string `envconfig:"META_APP_SECRET" split_words:"true"`
}
