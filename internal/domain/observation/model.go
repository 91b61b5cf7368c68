package observation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/fhir"
)

// ErrInvalidResource marks a resource that cannot be mapped or violates a
// business rule.
var ErrInvalidResource = errors.New("invalid observation")

// DefaultStatus is applied when a submitted resource carries no status.
const DefaultStatus = "final"

var validStatuses = map[string]bool{
	"registered": true, "preliminary": true, "final": true, "amended": true,
}

type Observation struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	SubjectPatientID  uuid.UUID  `db:"subject_patient_id" json:"subject_patient_id"`
	CodeableConceptID uuid.UUID  `db:"codeable_concept_id" json:"codeable_concept_id"`
	CodingSystem      string     `db:"coding_system" json:"coding_system"`
	CodingCode        string     `db:"coding_code" json:"coding_code"`
	CodingText        *string    `db:"text" json:"coding_text,omitempty"`
	Status            string     `db:"status" json:"status"`
	IdentifierSystem  *string    `db:"identifier_system" json:"identifier_system,omitempty"`
	IdentifierValue   *string    `db:"identifier_value" json:"identifier_value,omitempty"`
	ValueAttachment   Attachment `db:"value_attachment" json:"value_attachment"`
	LastUpdated       time.Time  `db:"last_updated" json:"last_updated"`
}

// Attachment is the opaque payload of an observation, stored as JSONB.
type Attachment struct {
	ContentType string          `json:"content_type,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// ScopeCode is a CodeableConcept naming a consentable data category.
type ScopeCode struct {
	ID           uuid.UUID `db:"id" json:"id"`
	CodingSystem string    `db:"coding_system" json:"coding_system"`
	CodingCode   string    `db:"coding_code" json:"coding_code"`
	Text         *string   `db:"text" json:"text,omitempty"`
}

// ToResource renders the observation in internal (snake_case) resource form.
// The stored payload is decoded with json.Number so integers keep full
// precision.
func (o *Observation) ToResource() (map[string]interface{}, error) {
	code := map[string]interface{}{
		"coding": []interface{}{
			map[string]interface{}{"system": o.CodingSystem, "code": o.CodingCode},
		},
	}
	if o.CodingText != nil {
		code["text"] = *o.CodingText
	}

	var data interface{}
	if len(o.ValueAttachment.Data) > 0 {
		dec := json.NewDecoder(bytes.NewReader(o.ValueAttachment.Data))
		dec.UseNumber()
		if err := dec.Decode(&data); err != nil {
			return nil, fmt.Errorf("decode value_attachment of observation %s: %w", o.ID, err)
		}
	}

	result := map[string]interface{}{
		"resource_type": fhir.ResourceTypeObservation,
		"id":            o.ID.String(),
		"meta":          map[string]interface{}{"last_updated": o.LastUpdated.UTC().Format(time.RFC3339Nano)},
		"status":        o.Status,
		"subject":       map[string]interface{}{"reference": fhir.FormatReference("Patient", o.SubjectPatientID.String())},
		"code":          code,
		"value_attachment": map[string]interface{}{
			"content_type": o.ValueAttachment.ContentType,
			"data":         data,
		},
	}
	if o.IdentifierSystem != nil || o.IdentifierValue != nil {
		ident := map[string]interface{}{}
		if o.IdentifierSystem != nil {
			ident["system"] = *o.IdentifierSystem
		}
		if o.IdentifierValue != nil {
			ident["value"] = *o.IdentifierValue
		}
		result["identifier"] = []interface{}{ident}
	}
	return result, nil
}

// ToFHIR renders the observation in wire (camelCase) form.
func (o *Observation) ToFHIR() (map[string]interface{}, error) {
	r, err := o.ToResource()
	if err != nil {
		return nil, err
	}
	wire, _ := fhir.ToWire(r).(map[string]interface{})
	return wire, nil
}

// FromResource maps an internal-form resource onto a new Observation. The
// scope code is left for the caller to resolve from CodingSystem/CodingCode.
func FromResource(r map[string]interface{}) (*Observation, error) {
	if rt, ok := r["resource_type"]; ok && rt != fhir.ResourceTypeObservation {
		return nil, fmt.Errorf("%w: resourceType must be Observation", ErrInvalidResource)
	}

	o := &Observation{Status: DefaultStatus}

	subject, _ := r["subject"].(map[string]interface{})
	ref, _ := subject["reference"].(string)
	patientID, err := ParsePatientRef(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: subject.reference: %s", ErrInvalidResource, err.Error())
	}
	o.SubjectPatientID = patientID

	code, _ := r["code"].(map[string]interface{})
	codings, _ := code["coding"].([]interface{})
	if len(codings) == 0 {
		return nil, fmt.Errorf("%w: code.coding is required", ErrInvalidResource)
	}
	coding, _ := codings[0].(map[string]interface{})
	o.CodingSystem, _ = coding["system"].(string)
	o.CodingCode, _ = coding["code"].(string)
	if o.CodingSystem == "" || o.CodingCode == "" {
		return nil, fmt.Errorf("%w: code.coding[0] requires system and code", ErrInvalidResource)
	}

	if s, ok := r["status"].(string); ok && s != "" {
		if !validStatuses[s] {
			return nil, fmt.Errorf("%w: unsupported status %q", ErrInvalidResource, s)
		}
		o.Status = s
	}

	attachment, _ := r["value_attachment"].(map[string]interface{})
	if attachment["data"] == nil {
		return nil, fmt.Errorf("%w: resource.valueAttachment.data must be not null", ErrInvalidResource)
	}
	raw, err := json.Marshal(attachment["data"])
	if err != nil {
		return nil, fmt.Errorf("%w: valueAttachment.data: %s", ErrInvalidResource, err.Error())
	}
	o.ValueAttachment.Data = raw
	o.ValueAttachment.ContentType, _ = attachment["content_type"].(string)

	if idents, ok := r["identifier"].([]interface{}); ok && len(idents) > 0 {
		ident, _ := idents[0].(map[string]interface{})
		if sys, ok := ident["system"].(string); ok && sys != "" {
			o.IdentifierSystem = &sys
		}
		if val, ok := ident["value"].(string); ok && val != "" {
			o.IdentifierValue = &val
		}
	}

	return o, nil
}

// ParsePatientRef accepts "Patient/<uuid>" or a bare uuid.
func ParsePatientRef(ref string) (uuid.UUID, error) {
	if ref == "" {
		return uuid.Nil, errors.New("patient reference is required")
	}
	if rt, id, found := strings.Cut(ref, "/"); found {
		if rt != "Patient" {
			return uuid.Nil, fmt.Errorf("expected a Patient reference, got %q", rt)
		}
		ref = id
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid patient id %q", ref)
	}
	return id, nil
}
