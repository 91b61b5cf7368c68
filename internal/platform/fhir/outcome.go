package fhir

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// OperationOutcome severity levels and issue types used by this server.
const (
	IssueSeverityError = "error"

	IssueTypeProcessing = "processing"
	IssueTypeNotFound   = "not-found"
	IssueTypeForbidden  = "forbidden"
)

// ErrEntryShape is returned by NewBatchEntry when the caller supplies both or
// neither of an outcome and a created id.
var ErrEntryShape = errors.New("batch entry requires exactly one of outcome or created id")

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

// ErrorOutcome is the single-issue error envelope returned for every failure.
func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, diagnostics)
}

func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, resourceType+"/"+id+" not found")
}

// StatusLine renders an HTTP status as "<code> <reason-phrase>".
func StatusLine(code int) string {
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}

// NewBatchEntry encodes one batch-response entry. A created id produces a
// resource reference, an outcome is attached to the response.
func NewBatchEntry(status int, outcome *OperationOutcome, createdID string) (BundleEntry, error) {
	if (outcome == nil) == (createdID == "") {
		return BundleEntry{}, ErrEntryShape
	}

	entry := BundleEntry{Response: &BundleResponse{Status: StatusLine(status)}}
	if createdID != "" {
		raw, err := json.Marshal(map[string]string{"id": createdID})
		if err != nil {
			return BundleEntry{}, fmt.Errorf("encode entry resource: %w", err)
		}
		entry.Resource = raw
	}
	if outcome != nil {
		entry.Response.Outcome = outcome
	}
	return entry, nil
}
