package datasource

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var ErrInvalidCatalog = errors.New("invalid catalog")

// ScopeCode is a CodeableConcept that data sources produce and studies request.
type ScopeCode struct {
	ID           uuid.UUID `db:"id" json:"id"`
	CodingSystem string    `db:"coding_system" json:"coding_system" yaml:"system"`
	CodingCode   string    `db:"coding_code" json:"coding_code" yaml:"code"`
	Text         *string   `db:"text" json:"text" yaml:"text"`
}

type DataSource struct {
	ID              uuid.UUID   `db:"id" json:"id"`
	Name            string      `db:"name" json:"name"`
	Type            string      `db:"type" json:"type"`
	SupportedScopes []ScopeCode `json:"supported_scopes"`
}

// Catalog is the seed file format:
//
//	scope_codes:
//	  - {system: https://w3id.org/openmhealth, code: omh:heart-rate:2.0, text: Heart Rate}
//	data_sources:
//	  - name: Dexcom
//	    type: personal_device
//	    scopes: [omh:blood-glucose:4.0]
//
// Data source scopes refer to scope codes by code.
type Catalog struct {
	ScopeCodes  []ScopeCode     `yaml:"scope_codes"`
	DataSources []CatalogSource `yaml:"data_sources"`
}

type CatalogSource struct {
	Name   string   `yaml:"name"`
	Type   string   `yaml:"type"`
	Scopes []string `yaml:"scopes"`
}

const DefaultSourceType = "personal_device"

// ParseCatalog decodes and validates a catalog. Unknown keys are rejected.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCatalog, err.Error())
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	codes := make(map[string]bool, len(c.ScopeCodes))
	for i, sc := range c.ScopeCodes {
		if sc.CodingSystem == "" || sc.CodingCode == "" {
			return fmt.Errorf("%w: scope_codes[%d] needs system and code", ErrInvalidCatalog, i)
		}
		if codes[sc.CodingCode] {
			return fmt.Errorf("%w: duplicate scope code %q", ErrInvalidCatalog, sc.CodingCode)
		}
		codes[sc.CodingCode] = true
	}
	names := make(map[string]bool, len(c.DataSources))
	for i := range c.DataSources {
		ds := &c.DataSources[i]
		if ds.Name == "" {
			return fmt.Errorf("%w: data_sources[%d] needs a name", ErrInvalidCatalog, i)
		}
		if names[ds.Name] {
			return fmt.Errorf("%w: duplicate data source %q", ErrInvalidCatalog, ds.Name)
		}
		names[ds.Name] = true
		if ds.Type == "" {
			ds.Type = DefaultSourceType
		}
		for _, code := range ds.Scopes {
			if !codes[code] {
				return fmt.Errorf("%w: data source %q references unknown scope %q", ErrInvalidCatalog, ds.Name, code)
			}
		}
	}
	return nil
}
