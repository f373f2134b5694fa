package queue

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// NewBackend resolves the configured provider name to a concrete backend.
// The choice is made once at startup and fixed for the process lifetime.
// Any unrecognized (or empty) provider falls back to the memory backend;
// only the sqs backend can fail construction, when its required settings
// are absent.
func NewBackend(cfg Config, log zerolog.Logger) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "rabbitmq":
		return NewRabbitMQBackend(cfg, log), nil

	case "sqs":
		backend, err := NewSQSBackend(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("sqs backend: %w", err)
		}
		return backend, nil

	default:
		return NewMemoryBackend(log), nil
	}
}
