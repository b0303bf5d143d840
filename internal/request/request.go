// Package request defines the inbound analysis request and its boundary
// validation.
//
// The invocation payload is dynamic JSON from the trigger. It is coerced
// into the typed AnalysisRequest here, before any other component sees
// it: unknown fields, missing required fields and non-positive epsilon
// all fail fast as validation errors, and in particular never reach the
// budget accountant.
package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tolliver/veil/internal/validate"
)

// AnalysisRequest is the typed form of the invocation payload.
type AnalysisRequest struct {
	CommandID           int64   `json:"command_id"`
	RunID               int64   `json:"run_id"`
	ResearcherID        *int64  `json:"researcher_id,omitempty"`
	ConfidentialQuery   bool    `json:"confidential_query"`
	Epsilon             float64 `json:"epsilon"`
	TransformationQuery *string `json:"transformation_query"`
	AnalysisQuery       string  `json:"analysis_query"`
	Debug               bool    `json:"debug"`
}

// rawRequest mirrors AnalysisRequest with pointers so missing required
// fields are distinguishable from zero values.
type rawRequest struct {
	CommandID           *int64   `json:"command_id"`
	RunID               *int64   `json:"run_id"`
	ResearcherID        *int64   `json:"researcher_id"`
	ConfidentialQuery   *bool    `json:"confidential_query"`
	Epsilon             *float64 `json:"epsilon"`
	TransformationQuery *string  `json:"transformation_query"`
	AnalysisQuery       *string  `json:"analysis_query"`
	Debug               *bool    `json:"debug"`
}

func invalid(format string, args ...any) error {
	return &validate.Error{
		Reason:  validate.ReasonInvalidRequest,
		Message: fmt.Sprintf(format, args...),
	}
}

// Decode parses and validates a JSON payload into an AnalysisRequest.
// Unknown fields are rejected, required fields must be present, and
// epsilon must be strictly positive.
func Decode(data []byte) (*AnalysisRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var raw rawRequest
	if err := dec.Decode(&raw); err != nil {
		return nil, invalid("malformed request payload: %v", err)
	}
	// A second document after the first is malformed input, not extra
	// whitespace.
	if err := dec.Decode(new(json.RawMessage)); err != io.EOF {
		return nil, invalid("request payload contains trailing data")
	}

	var missing []string
	if raw.CommandID == nil {
		missing = append(missing, "command_id")
	}
	if raw.RunID == nil {
		missing = append(missing, "run_id")
	}
	if raw.ConfidentialQuery == nil {
		missing = append(missing, "confidential_query")
	}
	if raw.Epsilon == nil {
		missing = append(missing, "epsilon")
	}
	if raw.AnalysisQuery == nil {
		missing = append(missing, "analysis_query")
	}
	if len(missing) > 0 {
		return nil, invalid("missing required fields: %s", strings.Join(missing, ", "))
	}

	req := &AnalysisRequest{
		CommandID:           *raw.CommandID,
		RunID:               *raw.RunID,
		ResearcherID:        raw.ResearcherID,
		ConfidentialQuery:   *raw.ConfidentialQuery,
		Epsilon:             *raw.Epsilon,
		TransformationQuery: raw.TransformationQuery,
		AnalysisQuery:       *raw.AnalysisQuery,
	}
	if raw.Debug != nil {
		req.Debug = *raw.Debug
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// Validate checks field-level invariants that do not need the schema.
func (r *AnalysisRequest) Validate() error {
	if r.Epsilon <= 0 {
		return invalid("epsilon must be strictly positive, got %g", r.Epsilon)
	}
	if strings.TrimSpace(r.AnalysisQuery) == "" {
		return &validate.Error{
			Reason:  validate.ReasonEmptyQuery,
			Message: "analysis_query must not be empty",
		}
	}
	if r.RunID <= 0 {
		return invalid("run_id must be a positive identifier, got %d", r.RunID)
	}
	return nil
}

// TransformText returns the transformation query text, empty when the
// field is null or absent.
func (r *AnalysisRequest) TransformText() string {
	if r.TransformationQuery == nil {
		return ""
	}
	return strings.TrimSpace(*r.TransformationQuery)
}

// ScopeKey returns the budget accounting scope for this request against
// the named dataset: per dataset, refined per researcher when the request
// carries a researcher identity.
func (r *AnalysisRequest) ScopeKey(dataset string) string {
	if r.ResearcherID != nil {
		return fmt.Sprintf("%s/researcher/%d", dataset, *r.ResearcherID)
	}
	return dataset
}
