package study

import (
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/stoewer/go-strcase"
)

// SchemaID identifies the generated schema.
const SchemaID = "https://github.com/KaramelBytes/surveylens/schemas/study.json"

// Schema returns the JSON Schema of the study file.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		KeyNamer: strcase.SnakeCase,
		Namer: func(t reflect.Type) string {
			return strcase.SnakeCase(t.Name())
		},
		ExpandedStruct: true,
	}
	s := r.Reflect(&Study{})
	s.ID = jsonschema.ID(SchemaID)
	s.Title = "surveylens study"
	return json.MarshalIndent(s, "", "  ")
}
