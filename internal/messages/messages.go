// Package messages holds the configured courtesy texts sent to the visitor
// around handoff lifecycle events.
package messages

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the set of canned responses the bridge sends on behalf of the
// bot. Values are loaded from YAML; anything missing keeps its default.
type Catalog struct {
	AgentAssigned   string `yaml:"agent_assigned"`
	ChatEnded       string `yaml:"chat_ended"`
	ChatRequestFail string `yaml:"chat_request_fail"`
	SessionClosed   string `yaml:"session_closed"`
	MenuPrompt      string `yaml:"menu_prompt"`
}

// Defaults returns the built-in catalog.
func Defaults() Catalog {
	return Catalog{
		AgentAssigned:   "Hang tight, we're connecting you with a live agent.",
		ChatEnded:       "The agent has ended the chat. Thanks for reaching out!",
		ChatRequestFail: "Sorry, no agents are available right now. Please try again later.",
		SessionClosed:   "Your chat session has been closed.",
		MenuPrompt:      "How else can I help you today?",
	}
}

// Load reads a catalog from a YAML file, overlaying the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (Catalog, error) {
	cat := Defaults()
	if path == "" {
		return cat, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cat, fmt.Errorf("reading message catalog: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return cat, fmt.Errorf("parsing message catalog: %w", err)
	}
	return cat, nil
}
