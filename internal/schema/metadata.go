// Package schema validates the metadata attached to DropLink payments.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const paymentMetadata = `{
	"type": "object",
	"required": ["itemId", "itemType", "purchaser"],
	"properties": {
		"itemId":    {"type": "string", "minLength": 1, "maxLength": 255},
		"itemType":  {"type": "string", "enum": ["product", "subscription", "gift", "tip", "donation"]},
		"purchaser": {"type": "string", "minLength": 1, "maxLength": 255}
	}
}`

var (
	ErrInvalidMetadata = errors.New("invalid payment metadata")

	metadataSchema = mustCompile(paymentMetadata)
)

func mustCompile(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return schema
}

// ValidateMetadata checks the keys every payment carries. Extra keys are allowed.
func ValidateMetadata(metadata map[string]any) error {
	if metadata == nil {
		return fmt.Errorf("%w: metadata is required", ErrInvalidMetadata)
	}

	result, err := metadataSchema.Validate(gojsonschema.NewGoLoader(metadata))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if !result.Valid() {
		var sb strings.Builder
		for i, e := range result.Errors() {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidMetadata, sb.String())
	}
	return nil
}

// String returns metadata[key] when it is a string.
func String(metadata map[string]any, key string) string {
	s, _ := metadata[key].(string)
	return s
}
