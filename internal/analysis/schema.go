package analysis

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/phrazzld/assay-api/internal/domain"
)

// SchemaValidator wraps an Analyzer and rejects results that do not conform
// to a JSON schema.
type SchemaValidator struct {
	next   Analyzer
	schema *gojsonschema.Schema
}

// NewSchemaValidator compiles schemaJSON and wraps next with it.
func NewSchemaValidator(next Analyzer, schemaJSON []byte) (*SchemaValidator, error) {
	if next == nil {
		return nil, fmt.Errorf("%w: next analyzer cannot be nil", ErrInvalidConfig)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to compile result schema: %v", ErrInvalidConfig, err)
	}
	return &SchemaValidator{next: next, schema: schema}, nil
}

// NewSchemaValidatorFromFile reads the schema at path and wraps next with it.
func NewSchemaValidatorFromFile(next Analyzer, path string) (*SchemaValidator, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read result schema from %s: %v", ErrInvalidConfig, path, err)
	}
	return NewSchemaValidator(next, b)
}

// Analyze implements Analyzer.
func (v *SchemaValidator) Analyze(ctx context.Context, artifact domain.Artifact) (domain.Result, error) {
	result, err := v.next.Analyze(ctx, artifact)
	if err != nil {
		return nil, err
	}
	if err := v.Validate(result); err != nil {
		return nil, err
	}
	return result, nil
}

// Validate checks result against the schema.
func (v *SchemaValidator) Validate(result domain.Result) error {
	res, err := v.schema.Validate(gojsonschema.NewBytesLoader(result))
	if err != nil {
		return fmt.Errorf("%w: result is not valid JSON: %v", ErrInvalidResponse, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: result does not match schema: %s", ErrInvalidResponse, strings.Join(msgs, "; "))
}
