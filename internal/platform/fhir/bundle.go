package fhir

import (
	"encoding/json"
	"time"
)

// Bundle represents a FHIR searchset Bundle.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
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
}

type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

// NewSearchBundle wraps resources in a searchset Bundle. Resources that carry
// a resourceType and id get a fullUrl under baseURL.
func NewSearchBundle(resources []map[string]interface{}, total int, baseURL string) *Bundle {
	now := time.Now().UTC()
	entries := make([]BundleEntry, 0, len(resources))
	for _, r := range resources {
		raw, err := json.Marshal(r)
		if err != nil {
			continue
		}
		entry := BundleEntry{Resource: raw, Search: &BundleSearch{Mode: "match"}}
		rt, _ := r["resourceType"].(string)
		id, _ := r["id"].(string)
		if rt != "" && id != "" {
			entry.FullURL = baseURL + "/" + FormatReference(rt, id)
		}
		entries = append(entries, entry)
	}

	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &total,
		Link:         []BundleLink{{Relation: "self", URL: baseURL}},
		Entry:        entries,
		Timestamp:    &now,
	}
}
