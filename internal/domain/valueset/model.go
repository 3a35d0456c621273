package valueset

import (
	"sort"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/fhir"
)

// ValueSet is a fixed, versioned collection of clinical codes grouped by code
// system name.
type ValueSet struct {
	Key               string              `json:"key"`
	ID                string              `json:"id"`
	Version           string              `json:"version"`
	Category          string              `json:"category"`
	Name              string              `json:"name"`
	OID               string              `json:"oid,omitempty"`
	DefinitionVersion string              `json:"definition_version,omitempty"`
	ExpansionVersion  string              `json:"expansion_version,omitempty"`
	Description       string              `json:"description,omitempty"`
	Codes             map[string][]string `json:"codes"`
}

// Coding is a single (system, code) pair. System may be a name or a URL.
type Coding struct {
	System string `json:"system"`
	Code   string `json:"code"`
}

// SystemCodes is the set of codes a value set holds for one system.
type SystemCodes struct {
	System string   `json:"system"`
	Codes  []string `json:"codes"`
}

// Values returns a copy of the codes keyed by system name.
func (vs *ValueSet) Values() map[string][]string {
	out := make(map[string][]string, len(vs.Codes))
	for sys, codes := range vs.Codes {
		out[sys] = append([]string(nil), codes...)
	}
	return out
}

// Codings returns the codes of every mapped system keyed by URL, in mapping
// order. Systems sharing a URL are reported separately.
func (vs *ValueSet) Codings() []SystemCodes {
	var out []SystemCodes
	for _, m := range CodeSystemMapping {
		if codes, ok := vs.Codes[m.Name]; ok {
			out = append(out, SystemCodes{System: m.URL, Codes: append([]string(nil), codes...)})
		}
	}
	return out
}

// CodingsByName is Codings for stores that record the system name instead of
// the URL. Unmapped systems are still excluded.
func (vs *ValueSet) CodingsByName() []SystemCodes {
	var out []SystemCodes
	for _, m := range CodeSystemMapping {
		if codes, ok := vs.Codes[m.Name]; ok {
			out = append(out, SystemCodes{System: m.Name, Codes: append([]string(nil), codes...)})
		}
	}
	return out
}

// Contains reports whether code belongs to the value set under system, given
// either as a name ("LOINC") or a URL ("http://loinc.org").
func (vs *ValueSet) Contains(system, code string) bool {
	for _, name := range resolveSystem(system) {
		if containsCode(vs.Codes[name], code) {
			return true
		}
	}
	return false
}

func containsCode(sorted []string, code string) bool {
	i := sort.SearchStrings(sorted, code)
	return i < len(sorted) && sorted[i] == code
}

// Systems returns the system names used, sorted.
func (vs *ValueSet) Systems() []string {
	out := make([]string, 0, len(vs.Codes))
	for sys := range vs.Codes {
		out = append(out, sys)
	}
	sort.Strings(out)
	return out
}

// Size is the total number of codes across systems.
func (vs *ValueSet) Size() int {
	n := 0
	for _, codes := range vs.Codes {
		n += len(codes)
	}
	return n
}

// Union combines value sets so a single lookup matches any of them.
func Union(sets ...*ValueSet) *ValueSet {
	out := &ValueSet{Codes: map[string][]string{}}
	n := 0
	for _, vs := range sets {
		if vs == nil {
			continue
		}
		if n++; n > 1 {
			out.Key += "|"
			out.ID += "|"
			out.Name += " or "
		}
		out.Key += vs.Key
		out.ID += vs.ID
		out.Name += vs.Name
		for sys, codes := range vs.Codes {
			out.Codes[sys] = append(out.Codes[sys], codes...)
		}
	}
	for sys, codes := range out.Codes {
		out.Codes[sys] = normalizeCodes(codes)
	}
	return out
}

// normalizeCodes sorts and de-duplicates codes in place.
func normalizeCodes(codes []string) []string {
	sort.Strings(codes)
	out := codes[:0]
	for i, c := range codes {
		if c == "" || (i > 0 && c == codes[i-1]) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ToFHIR renders the value set as a FHIR R4 ValueSet with an enumerated
// compose. Unmapped systems use their name as the include system.
func (vs *ValueSet) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": "ValueSet",
		"id":           vs.Key,
		"name":         vs.ID,
		"title":        vs.Name,
		"status":       "active",
		"immutable":    true,
	}
	if vs.OID != "" {
		result["url"] = "urn:oid:" + vs.OID
		result["identifier"] = []fhir.Identifier{{System: "urn:ietf:rfc:3986", Value: "urn:oid:" + vs.OID}}
	}
	if vs.ExpansionVersion != "" {
		result["version"] = vs.ExpansionVersion
	}
	if vs.Description != "" {
		result["description"] = vs.Description
	}

	var includes []map[string]interface{}
	for _, sys := range vs.Systems() {
		system := sys
		if url, ok := URLFor(sys); ok {
			system = url
		}
		concepts := make([]map[string]string, 0, len(vs.Codes[sys]))
		for _, code := range vs.Codes[sys] {
			concepts = append(concepts, map[string]string{"code": code})
		}
		includes = append(includes, map[string]interface{}{
			"system":  system,
			"concept": concepts,
		})
	}
	result["compose"] = map[string]interface{}{"include": includes}
	return result
}
