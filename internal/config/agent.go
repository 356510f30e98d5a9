package config

import (
	"errors"

	gaconfig "github.com/JaimeStill/go-agents/pkg/config"
)

const (
	EnvAgentProviderName = "MARKER_AGENT_PROVIDER_NAME"
	EnvAgentBaseURL      = "MARKER_AGENT_BASE_URL"
	EnvAgentToken        = "MARKER_AGENT_TOKEN"
	EnvAgentDeployment   = "MARKER_AGENT_DEPLOYMENT"
	EnvAgentAPIVersion   = "MARKER_AGENT_API_VERSION"
	EnvAgentAuthType     = "MARKER_AGENT_AUTH_TYPE"
	EnvAgentModelName    = "MARKER_AGENT_MODEL_NAME"
)

// agentOptions maps provider option keys to their environment variables.
var agentOptions = map[string]string{
	"token":       EnvAgentToken,
	"deployment":  EnvAgentDeployment,
	"api_version": EnvAgentAPIVersion,
	"auth_type":   EnvAgentAuthType,
}

// FinalizeAgent layers go-agents defaults, the configured values, and
// MARKER_AGENT_* overrides onto c, then validates the result.
func FinalizeAgent(c *gaconfig.AgentConfig) error {
	defaults := gaconfig.DefaultAgentConfig()
	defaults.Merge(c)
	*c = defaults

	if c.Provider == nil {
		c.Provider = &gaconfig.ProviderConfig{}
	}
	if c.Provider.Options == nil {
		c.Provider.Options = make(map[string]any)
	}
	if c.Model == nil {
		c.Model = &gaconfig.ModelConfig{}
	}

	envString(&c.Provider.Name, EnvAgentProviderName)
	envString(&c.Provider.BaseURL, EnvAgentBaseURL)
	envString(&c.Model.Name, EnvAgentModelName)
	for key, name := range agentOptions {
		var v string
		if envString(&v, name); v != "" {
			c.Provider.Options[key] = v
		}
	}

	switch {
	case c.Name == "":
		return errors.New("name required")
	case c.Provider.Name == "":
		return errors.New("provider name required")
	}
	return nil
}
