package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// Schemas holds the compiled message schemas keyed by message type.
type Schemas struct {
	byType map[string]*jsonschema.Schema
}

var schemaFiles = map[string]string{
	TypeHello:   "hello.schema.json",
	TypeWelcome: "welcome.schema.json",
	TypeObs:     "obs.schema.json",
	TypeAct:     "act.schema.json",
}

func CompileSchemas() (*Schemas, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	for _, name := range schemaFiles {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
	}
	out := &Schemas{byType: map[string]*jsonschema.Schema{}}
	for typ, name := range schemaFiles {
		s, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		out.byType[typ] = s
	}
	return out, nil
}

// SchemaSource returns the raw schema for a message type.
func SchemaSource(typ string) ([]byte, bool) {
	name, ok := schemaFiles[typ]
	if !ok {
		return nil, false
	}
	b, err := schemaFS.ReadFile("schemas/" + name)
	return b, err == nil
}

// Validate checks a raw JSON message against the schema of its type.
func (s *Schemas) Validate(typ string, raw []byte) error {
	sc, ok := s.byType[typ]
	if !ok {
		return fmt.Errorf("no schema for %q", typ)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return sc.Validate(v)
}

// ValidateValue marshals v and validates it; used for outbound messages in tests.
func (s *Schemas) ValidateValue(typ string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Validate(typ, b)
}
