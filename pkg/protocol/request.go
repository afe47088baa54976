package protocol

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

// Control message vocabulary.
const (
	// RequestTypeField is the reserved body field marking a session request.
	RequestTypeField = "requestType"

	// RequestTypeNewSession asks for a new session.
	RequestTypeNewSession = "NEW_SESSION"

	// RequestTypeClose asks to close the session named by the request header.
	RequestTypeClose = "CLOSE"
)

// controlSchema enforces the mutual-exclusivity rule: a session request is
// exactly {"requestType": <verb>} and nothing else, so an accidental field
// collision in an ordinary payload is never misrouted and a deliberately
// malformed control message is rejected outright.
const controlSchemaJSON = `{
	"type": "object",
	"properties": {
		"requestType": {
			"type": "string",
			"enum": ["NEW_SESSION", "CLOSE"]
		}
	},
	"required": ["requestType"],
	"additionalProperties": false
}`

var controlSchema = mustCompileSchema(controlSchemaJSON)

func mustCompileSchema(raw string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid control schema: %v", err))
	}
	return schema
}

// ParseControlRequest inspects a JSON request body for the reserved
// request-type field. It returns ("", false, nil) for ordinary requests,
// (verb, true, nil) for well-formed session requests, and ErrMalformedRequest
// when the field is present but the body violates the control schema.
func ParseControlRequest(body []byte) (string, bool, error) {
	if !gjson.GetBytes(body, RequestTypeField).Exists() {
		return "", false, nil
	}

	result, err := controlSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return "", false, fmt.Errorf("%w: %s", ErrMalformedRequest, strings.Join(details, "; "))
	}

	return gjson.GetBytes(body, RequestTypeField).String(), true, nil
}
