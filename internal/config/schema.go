package config

import (
	"encoding/json"
	"path"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
)

const modulePath = "github.com/haasonsaas/tierroute/"

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

var durationType = reflect.TypeOf(time.Duration(0))

// JSONSchema returns the JSON Schema for Config, keyed by the YAML field
// names, for editor validation of config files. Every field is optional.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:               "yaml",
			ExpandedStruct:             true,
			RequiredFromJSONSchemaTags: true,
			Namer:                      schemaTypeName,
			Mapper:                     schemaMapper,
		}
		schema := r.Reflect(&Config{})
		schema.Title = "tierroute configuration"
		schema.Description = "Routing, classifier, pipeline and experiment settings"
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}

// schemaTypeName prefixes types from other tierroute packages with their
// package name, so routing.Config and providers.Config get distinct $defs.
func schemaTypeName(t reflect.Type) string {
	pkg := t.PkgPath()
	if !strings.HasPrefix(pkg, modulePath) || path.Base(pkg) == "config" {
		return ""
	}
	base := path.Base(pkg)
	return strings.ToUpper(base[:1]) + base[1:] + t.Name()
}

// schemaMapper describes durations the way YAML accepts them: a Go
// duration string such as "2s", or integer nanoseconds.
func schemaMapper(t reflect.Type) *jsonschema.Schema {
	if t != durationType {
		return nil
	}
	return &jsonschema.Schema{
		Description: "duration such as 500ms, 2s or 5m",
		OneOf: []*jsonschema.Schema{
			{Type: "string", Pattern: `^-?([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$|^0$`},
			{Type: "integer"},
		},
	}
}
