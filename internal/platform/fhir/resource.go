package fhir

// ResourceTypeObservation is the only clinical resource type accepted on write.
const ResourceTypeObservation = "Observation"

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// FormatReference creates a FHIR reference string.
func FormatReference(resourceType, id string) string {
	return resourceType + "/" + id
}
