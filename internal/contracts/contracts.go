// Package contracts validates inbound payloads against versioned JSON
// schemas before they reach the board. Schemas are embedded so the binary
// carries its own contract surface.
package contracts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas
var schemaFS embed.FS

const (
	// RawListingType is the event type scrapers publish on the ingest queue
	// and webhooks POST to the API.
	RawListingType = "RawListing"
	// RawListingVersion is the current contract version for RawListing.
	RawListingVersion = "1.0.0"
)

var compiledSchemas map[string]*jsonschema.Schema

func init() {
	var err error
	compiledSchemas, err = compileAll(map[string]string{
		schemaKey(RawListingType, RawListingVersion): "schemas/raw-listing.v1.json",
	})
	if err != nil {
		panic(err)
	}
}

func schemaKey(eventType, eventVersion string) string {
	return fmt.Sprintf("%s/%s", eventType, eventVersion)
}

func compileAll(sources map[string]string) (map[string]*jsonschema.Schema, error) {
	compiled := make(map[string]*jsonschema.Schema, len(sources))
	for key, path := range sources {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true

		data, err := schemaFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", path, err)
		}
		if err := compiler.AddResource(path, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", path, err)
		}
		schema, err := compiler.Compile(path)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", path, err)
		}
		compiled[key] = schema
	}
	return compiled, nil
}

// ValidateEvent checks body against the schema registered for the given
// type and version pair.
func ValidateEvent(eventType, eventVersion string, body []byte) error {
	schema, ok := compiledSchemas[schemaKey(eventType, eventVersion)]
	if !ok {
		return fmt.Errorf("no schema registered for %s/%s", eventType, eventVersion)
	}
	var value interface{}
	if err := json.Unmarshal(body, &value); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	return schema.Validate(value)
}
