package fhir

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pstell2002/jupyterhealth-exchange/pkg/pagination"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
	Request  *BundleRequest  `json:"request,omitempty"`
	Response *BundleResponse `json:"response,omitempty"`
}

type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url,omitempty"`
}

type BundleResponse struct {
	Status  string            `json:"status"`
	Outcome *OperationOutcome `json:"outcome,omitempty"`
}

// SearchBundleParams holds pagination and link information for a search bundle.
type SearchBundleParams struct {
	BaseURL  string
	QueryStr string
	Count    int
	Offset   int
	Total    int
}

// NewSearchBundleWithLinks creates a searchset Bundle with pagination links.
func NewSearchBundleWithLinks(resources []map[string]interface{}, params SearchBundleParams) *Bundle {
	now := time.Now().UTC()
	entries := make([]BundleEntry, len(resources))
	for i, r := range resources {
		raw, _ := json.Marshal(r)
		entries[i] = BundleEntry{
			FullURL:  fullURL(r),
			Resource: raw,
			Search:   &BundleSearch{Mode: "match"},
		}
	}

	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &params.Total,
		Timestamp:    &now,
		Link:         buildPaginationLinks(params),
		Entry:        entries,
	}
}

// NewBatchResponse wraps entry results, in submission order, into a
// non-atomic batch-response Bundle.
func NewBatchResponse(entries []BundleEntry) *Bundle {
	now := time.Now().UTC()
	if entries == nil {
		entries = []BundleEntry{}
	}
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "batch-response",
		Timestamp:    &now,
		Entry:        entries,
	}
}

func fullURL(r map[string]interface{}) string {
	rt, _ := r["resourceType"].(string)
	id, _ := r["id"].(string)
	if rt != "" && id != "" {
		return FormatReference(rt, id)
	}
	return ""
}

// buildPaginationLinks creates self, next, and previous links for searchset bundles.
func buildPaginationLinks(params SearchBundleParams) []BundleLink {
	link := func(offset int) string {
		return fmt.Sprintf("%s?%s_count=%d&_offset=%d", params.BaseURL, conditionalAmpersand(params.QueryStr), params.Count, offset)
	}
	page := pagination.Params{Limit: params.Count, Offset: params.Offset}

	links := []BundleLink{{Relation: "self", URL: link(page.Offset)}}
	if page.HasNext(params.Total) {
		links = append(links, BundleLink{Relation: "next", URL: link(page.NextOffset())})
	}
	if page.HasPrevious() {
		links = append(links, BundleLink{Relation: "previous", URL: link(page.PreviousOffset())})
	}
	return links
}

func conditionalAmpersand(qs string) string {
	if qs == "" {
		return ""
	}
	return qs + "&"
}
