package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	schemaOnce sync.Once
	schemaErr  error
	schemas    map[string]*jsonschema.Schema
)

var schemaFiles = map[string]string{
	TypeHello: "hello.schema.json",
	TypeCmd:   "cmd.schema.json",
	TypeReply: "reply.schema.json",
}

func loadSchemas() {
	c := jsonschema.NewCompiler()
	for _, name := range schemaFiles {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			schemaErr = err
			return
		}
		if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("schema %s: %w", name, err)
			return
		}
	}
	out := make(map[string]*jsonschema.Schema, len(schemaFiles))
	for typ, name := range schemaFiles {
		s, err := c.Compile(name)
		if err != nil {
			schemaErr = fmt.Errorf("compile %s: %w", name, err)
			return
		}
		out[typ] = s
	}
	schemas = out
}

// Validate checks raw against the schema registered for typ. Types without
// a schema pass.
func Validate(typ string, raw []byte) error {
	schemaOnce.Do(loadSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	s, ok := schemas[typ]
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}
