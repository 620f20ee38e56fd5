package proxy

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/chat_completions.schema.json
var chatCompletionsSchema []byte

// requestValidator validates incoming chat-completions request bodies
// before they are forwarded upstream.
type requestValidator struct {
	schema *jsonschema.Schema
}

// newRequestValidator compiles the embedded request schema.
func newRequestValidator() (*requestValidator, error) {
	compiler := jsonschema.NewCompiler()
	const name = "chat_completions.schema.json"
	if err := compiler.AddResource(name, bytes.NewReader(chatCompletionsSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &requestValidator{schema: schema}, nil
}

// Validate checks a decoded request body against the schema.
func (v *requestValidator) Validate(instance interface{}) error {
	return v.schema.Validate(instance)
}
