package valueset

import "strings"

// Code system names as they appear in value set definitions.
const (
	ICD10CM              = "ICD10CM"
	ICD10PCS             = "ICD10PCS"
	CPT                  = "CPT"
	HCPCSLEVELII         = "HCPCSLEVELII"
	HCPCS                = "HCPCS"
	LOINC                = "LOINC"
	SNOMEDCT             = "SNOMEDCT"
	RXNORM               = "RXNORM"
	FDB                  = "FDB"
	CVX                  = "CVX"
	ICD9CM               = "ICD9CM"
	CDCREC               = "CDCREC"
	SOP                  = "SOP"
	ADMINISTRATIVEGENDER = "ADMINISTRATIVEGENDER"
)

// SystemURL pairs a code system name with the canonical URL stored on codings.
type SystemURL struct {
	Name string
	URL  string
}

// CodeSystemMapping lists the systems that can be matched against stored
// codings, in lookup order. Both ICD-10 variants share one URL, as do the
// two HCPCS spellings.
var CodeSystemMapping = []SystemURL{
	{ICD10CM, "http://hl7.org/fhir/sid/icd-10"},
	{ICD10PCS, "http://hl7.org/fhir/sid/icd-10"},
	{CPT, "http://www.ama-assn.org/go/cpt"},
	{HCPCSLEVELII, "https://coder.aapc.com/hcpcs-codes"},
	{HCPCS, "https://coder.aapc.com/hcpcs-codes"},
	{LOINC, "http://loinc.org"},
	{SNOMEDCT, "http://snomed.info/sct"},
	{RXNORM, "http://www.nlm.nih.gov/research/umls/rxnorm"},
	{FDB, "http://www.fdbhealth.com/"},
	{CVX, "http://hl7.org/fhir/sid/cvx"},
	{ICD9CM, "http://hl7.org/fhir/sid/icd-9-cm"},
}

// unmappedSystems appear in definitions but have no coding URL.
var unmappedSystems = map[string]bool{
	CDCREC:               true,
	SOP:                  true,
	ADMINISTRATIVEGENDER: true,
}

// URLFor returns the coding URL for a system name.
func URLFor(name string) (string, bool) {
	for _, m := range CodeSystemMapping {
		if m.Name == name {
			return m.URL, true
		}
	}
	return "", false
}

// NamesFor returns every system name mapped to url.
func NamesFor(url string) []string {
	var out []string
	for _, m := range CodeSystemMapping {
		if m.URL == url {
			out = append(out, m.Name)
		}
	}
	return out
}

// KnownSystem reports whether name is a code system a value set may use.
func KnownSystem(name string) bool {
	if unmappedSystems[name] {
		return true
	}
	_, ok := URLFor(name)
	return ok
}

// resolveSystem turns a system given by name or URL into candidate names.
func resolveSystem(system string) []string {
	if strings.Contains(system, "://") {
		return NamesFor(system)
	}
	name := strings.ToUpper(system)
	if KnownSystem(name) {
		return []string{name}
	}
	return nil
}
