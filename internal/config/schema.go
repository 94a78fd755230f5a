package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed challenge.schema.json
var challengeSchemaJSON []byte

const challengeSchemaURL = "schema://liveness/challenge.json"

var (
	challengeSchema     *jsonschema.Schema
	challengeSchemaErr  error
	challengeSchemaOnce sync.Once
)

func compiledChallengeSchema() (*jsonschema.Schema, error) {
	challengeSchemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal(challengeSchemaJSON, &doc); err != nil {
			challengeSchemaErr = fmt.Errorf("parse schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(challengeSchemaURL, doc); err != nil {
			challengeSchemaErr = fmt.Errorf("add resource: %w", err)
			return
		}
		challengeSchema, challengeSchemaErr = c.Compile(challengeSchemaURL)
	})
	return challengeSchema, challengeSchemaErr
}

// validateChallengeYAML checks a challenge file against the embedded schema.
// Unknown keys, out-of-range thresholds and malformed task entries fail here
// before the file is decoded.
func validateChallengeYAML(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	// The validator works on JSON values, so normalise YAML's ints and maps.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert to json: %w", err)
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return err
	}

	schema, err := compiledChallengeSchema()
	if err != nil {
		return fmt.Errorf("compile challenge schema: %w", err)
	}
	return schema.Validate(parsed)
}
