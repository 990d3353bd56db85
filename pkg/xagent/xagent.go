// Package xagent re-exports the agent's consumer-facing surface so
// downstream integrations can script against a running daemon without
// importing internal packages.
package xagent

import (
	"github.com/quietloop/xagent/internal/client"
	internalcfg "github.com/quietloop/xagent/internal/config"
)

// Config re-exports the agent configuration structure.
type Config = internalcfg.Config

// LoadConfig delegates to the internal loader while keeping the consumer
// API inside the public pkg/xagent namespace.
func LoadConfig(path string) (*Config, error) {
	return internalcfg.Load(path)
}

// StatusClient talks to a running daemon's status API.
type StatusClient = client.StatusClient

// NewStatusClient constructs a status client for the given base URL. A nil
// HTTP client uses a default with a 10s timeout.
func NewStatusClient(baseURL string, httpClient client.HTTPClient) (*StatusClient, error) {
	return client.NewStatusClient(baseURL, httpClient)
}

type BudgetUsage = client.BudgetUsage
type LimitWindow = client.LimitWindow
type LearningArm = client.LearningArm
type ActionRecord = client.ActionRecord
