// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package httpapi

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Request bodies. Presence and format of each field are checked by the auth
// service; the schemas only pin the JSON shape.
type registerRequest struct {
	Username string `json:"username" jsonschema:"maxLength=256"`
	Email    string `json:"email" jsonschema:"maxLength=320"`
	Password string `json:"password" jsonschema:"maxLength=1024"`
}

type loginRequest struct {
	Email    string `json:"email" jsonschema:"maxLength=320"`
	Password string `json:"password" jsonschema:"maxLength=1024"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" jsonschema:"maxLength=320"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" jsonschema:"maxLength=256"`
	NewPassword string `json:"newPassword" jsonschema:"maxLength=1024"`
}

// schemaCache holds compiled schemas keyed by resource name.
var schemaCache sync.Map

// GenerateSchema reflects the JSON Schema for a request body.
func GenerateSchema(v any) ([]byte, error) {
	r := jsonschema.Reflector{
		Anonymous:                  true,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  true,
	}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").Wrap(err)
	}
	return data, nil
}

// compiledSchema returns the cached schema for name, compiling it from v on
// first use.
func compiledSchema(name string, v any) (*jschema.Schema, error) {
	if cached, ok := schemaCache.Load(name); ok {
		return cached.(*jschema.Schema), nil
	}

	raw, err := GenerateSchema(v)
	if err != nil {
		return nil, err
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", name).Wrap(err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", name).Wrap(err)
	}
	sch, err := c.Compile(name)
	if err != nil {
		return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("schema", name).Wrap(err)
	}

	actual, _ := schemaCache.LoadOrStore(name, sch)
	return actual.(*jschema.Schema), nil
}

// decodeBody validates body against the schema of dst and decodes it.
// Shape errors carry errInvalidBody.
func decodeBody(name string, body []byte, dst any) error {
	sch, err := compiledSchema(name, dst)
	if err != nil {
		return err
	}

	doc, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return oops.Code(errInvalidBody).With("schema", name).Wrap(err)
	}
	if err := sch.Validate(doc); err != nil {
		return oops.Code(errInvalidBody).With("schema", name).Wrap(err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return oops.Code(errInvalidBody).With("schema", name).Wrap(err)
	}
	return nil
}
