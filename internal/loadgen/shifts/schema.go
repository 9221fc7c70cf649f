package shifts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Response shapes the API promises per endpoint. Only the fields the load
// test checks are constrained.
const (
	createResponseSchema = `{
	"type": "object",
	"required": ["data"],
	"properties": {
		"data": {"type": "array"}
	}
}`

	updateResponseSchema = `{
	"type": "object",
	"required": ["success", "data"],
	"properties": {
		"success": {"const": true},
		"data": {"type": "array"}
	}
}`

	deleteResponseSchema = `{
	"type": "object",
	"required": ["success"],
	"properties": {
		"success": {"const": true}
	}
}`

	listResponseSchema = `{
	"type": "object",
	"required": ["data"],
	"properties": {
		"data": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id"]
			}
		},
		"meta": {
			"type": "object",
			"properties": {
				"totalPages": {"type": "integer", "minimum": 0}
			}
		}
	}
}`
)

// Compiled response schemas.
var (
	CreateResponse = MustCompile("create-response.json", createResponseSchema)
	UpdateResponse = MustCompile("update-response.json", updateResponseSchema)
	DeleteResponse = MustCompile("delete-response.json", deleteResponseSchema)
	ListResponse   = MustCompile("list-response.json", listResponseSchema)
)

// SchemaErrors lists every violation found in a body.
type SchemaErrors []error

func (se SchemaErrors) Error() string {
	if len(se) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, err := range se {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Schema is a compiled JSON schema for a response body.
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

// Compile compiles a schema document.
func Compile(name, doc string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", name, err)
	}
	s, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", name, err)
	}
	return &Schema{name: name, schema: s}, nil
}

// MustCompile is Compile that panics, for package-level schemas.
func MustCompile(name, doc string) *Schema {
	s, err := Compile(name, doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the resource name the schema was compiled under.
func (s *Schema) Name() string {
	return s.name
}

// Validate checks body against the schema. It returns SchemaErrors on a
// shape mismatch and a plain error when body is not JSON.
func (s *Schema) Validate(body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	err := s.schema.Validate(doc)
	if err == nil {
		return nil
	}
	if verr, ok := err.(*jsonschema.ValidationError); ok {
		if errs := flatten(verr); len(errs) > 0 {
			return errs
		}
	}
	return SchemaErrors{err}
}

func flatten(err *jsonschema.ValidationError) SchemaErrors {
	var errs SchemaErrors
	if err.Message != "" && len(err.Causes) == 0 {
		errs = append(errs, fmt.Errorf("%s: %s", location(err.InstanceLocation), err.Message))
	}
	for _, cause := range err.Causes {
		errs = append(errs, flatten(cause)...)
	}
	return errs
}

func location(l string) string {
	if l == "" {
		return "/"
	}
	return l
}
