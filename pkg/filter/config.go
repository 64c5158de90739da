package filter

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Config holds the operator-supplied pattern lists from
// blocked_keywords.json. All three lists are optional.
type Config struct {
	InputPatterns           []string `json:"input_patterns"`
	PromptInjectionPatterns []string `json:"prompt_injection_patterns"`
	OutputPatterns          []string `json:"output_patterns"`
}

const configSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"input_patterns":            {"type": "array", "items": {"type": "string"}},
		"prompt_injection_patterns": {"type": "array", "items": {"type": "string"}},
		"output_patterns":           {"type": "array", "items": {"type": "string"}}
	},
	"additionalProperties": false
}`

var compiledConfigSchema = mustCompileConfigSchema()

func mustCompileConfigSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://finllm.local/schemas/blocked_keywords.schema.json"
	if err := c.AddResource(url, strings.NewReader(configSchema)); err != nil {
		panic(err)
	}
	return c.MustCompile(url)
}

// LoadConfig reads blocked_keywords.json. A missing file yields an empty
// config (all built-in defenses stay active); a present but malformed
// file is a startup error, not a silent fallback.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filter: read %s: %w", path, err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("filter: parse %s: %w", path, err)
	}
	if err := compiledConfigSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("filter: %s schema validation failed: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("filter: decode %s: %w", path, err)
	}
	return &cfg, nil
}
