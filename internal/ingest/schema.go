package ingest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/waitflo/backend/internal/models"
)

//go:embed event.schema.json
var eventSchemaJSON string

const eventSchemaID = "https://waitflo.dev/schemas/event.json"

// ErrInvalidPayload means the request body is not JSON or does not match the
// event schema.
var ErrInvalidPayload = errors.New("invalid event payload")

// Schema validates inbound event documents.
type Schema struct {
	schema *jsonschema.Schema
}

func NewSchema() (*Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	if err := c.AddResource(eventSchemaID, strings.NewReader(eventSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add event schema: %w", err)
	}
	s, err := c.Compile(eventSchemaID)
	if err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}
	return &Schema{schema: s}, nil
}

// Decode validates body against the schema and decodes it into an Event.
func (s *Schema) Decode(body []byte) (*models.Event, error) {
	// UseNumber keeps amounts as exact integers for the schema's integer checks.
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after event", ErrInvalidPayload)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var ev models.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &ev, nil
}
