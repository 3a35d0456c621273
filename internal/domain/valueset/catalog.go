package valueset

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed data
var dataFS embed.FS

var (
	ErrNotFound  = errors.New("value set not found")
	ErrAmbiguous = errors.New("value set key is ambiguous")
)

type dataFile struct {
	Version   string      `json:"version"`
	Category  string      `json:"category"`
	ValueSets []*ValueSet `json:"value_sets"`
}

// Catalog indexes value sets by key and by code. Keys are
// "<version>.<category>.<ID>"; "<version>.<ID>" and a bare ID resolve when
// exactly one value set matches.
type Catalog struct {
	sets  map[string]*ValueSet
	alias map[string][]string
	// system name -> code -> keys
	index map[string]map[string][]string
}

// Default loads the embedded catalog.
func Default() (*Catalog, error) {
	sub, err := fs.Sub(dataFS, "data")
	if err != nil {
		return nil, fmt.Errorf("open embedded value sets: %w", err)
	}
	return Load(sub)
}

// Load reads every <version>/<category>.json file in fsys.
func Load(fsys fs.FS) (*Catalog, error) {
	c := &Catalog{sets: map[string]*ValueSet{}}

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".json" {
			return nil
		}
		raw, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		var doc dataFile
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode %s: %w", p, err)
		}
		for _, vs := range doc.ValueSets {
			vs.Version = doc.Version
			vs.Category = doc.Category
			if err := c.add(vs, false); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.reindex()
	return c, nil
}

func (c *Catalog) add(vs *ValueSet, replace bool) error {
	if vs.ID == "" || vs.Version == "" || vs.Category == "" {
		return fmt.Errorf("value set needs id, version and category")
	}
	for sys, codes := range vs.Codes {
		if !KnownSystem(sys) {
			return fmt.Errorf("value set %s: unknown code system %q", vs.ID, sys)
		}
		vs.Codes[sys] = normalizeCodes(codes)
	}
	vs.Key = vs.Version + "." + vs.Category + "." + vs.ID
	if _, exists := c.sets[vs.Key]; exists && !replace {
		return fmt.Errorf("duplicate value set %s", vs.Key)
	}
	c.sets[vs.Key] = vs
	return nil
}

func (c *Catalog) reindex() {
	c.alias = map[string][]string{}
	c.index = map[string]map[string][]string{}

	for _, key := range c.Keys() {
		vs := c.sets[key]
		for _, a := range []string{vs.Version + "." + vs.ID, vs.ID} {
			c.alias[a] = append(c.alias[a], key)
		}
		for sys, codes := range vs.Codes {
			byCode, ok := c.index[sys]
			if !ok {
				byCode = map[string][]string{}
				c.index[sys] = byCode
			}
			for _, code := range codes {
				byCode[code] = append(byCode[code], key)
			}
		}
	}
}

// Keys returns every full key, sorted.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.sets))
	for k := range c.sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Catalog) Len() int { return len(c.sets) }

// Get resolves a full key or an unambiguous shorthand.
func (c *Catalog) Get(key string) (*ValueSet, error) {
	if vs, ok := c.sets[key]; ok {
		return vs, nil
	}
	switch keys := c.alias[key]; len(keys) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	case 1:
		return c.sets[keys[0]], nil
	default:
		return nil, fmt.Errorf("%w: %s matches %s", ErrAmbiguous, key, strings.Join(keys, ", "))
	}
}

// Resolve looks up several keys and unions them. A single key returns the
// value set itself.
func (c *Catalog) Resolve(keys ...string) (*ValueSet, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no key given", ErrNotFound)
	}
	sets := make([]*ValueSet, 0, len(keys))
	for _, k := range keys {
		vs, err := c.Get(strings.TrimSpace(k))
		if err != nil {
			return nil, err
		}
		sets = append(sets, vs)
	}
	if len(sets) == 1 {
		return sets[0], nil
	}
	return Union(sets...), nil
}

// Filter narrows List. Query matches id, name or OID case-insensitively.
type Filter struct {
	Version  string
	Category string
	Query    string
}

func (c *Catalog) List(f Filter) []*ValueSet {
	q := strings.ToLower(f.Query)
	var out []*ValueSet
	for _, key := range c.Keys() {
		vs := c.sets[key]
		if f.Version != "" && vs.Version != f.Version {
			continue
		}
		if f.Category != "" && vs.Category != f.Category {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(vs.ID), q) &&
			!strings.Contains(strings.ToLower(vs.Name), q) &&
			vs.OID != f.Query {
			continue
		}
		out = append(out, vs)
	}
	return out
}

// Match returns every value set containing code under system (name or URL).
func (c *Catalog) Match(system, code string) []*ValueSet {
	seen := map[string]bool{}
	var keys []string
	for _, name := range resolveSystem(system) {
		for _, key := range c.index[name][code] {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)

	out := make([]*ValueSet, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.sets[k])
	}
	return out
}

// Classification is one value set hit by a batch of codings.
type Classification struct {
	Key     string   `json:"key"`
	Name    string   `json:"name"`
	Matches []Coding `json:"matches"`
}

// Classify groups codings by the value sets they fall in, ordered by key.
func (c *Catalog) Classify(codings []Coding) []Classification {
	byKey := map[string]*Classification{}
	for _, cd := range codings {
		for _, vs := range c.Match(cd.System, cd.Code) {
			cl, ok := byKey[vs.Key]
			if !ok {
				cl = &Classification{Key: vs.Key, Name: vs.Name}
				byKey[vs.Key] = cl
			}
			cl.Matches = append(cl.Matches, cd)
		}
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Classification, 0, len(keys))
	for _, k := range keys {
		out = append(out, *byKey[k])
	}
	return out
}

// Versions and Categories list the distinct values present, sorted.
func (c *Catalog) Versions() []string { return c.distinct(func(vs *ValueSet) string { return vs.Version }) }

func (c *Catalog) Categories() []string {
	return c.distinct(func(vs *ValueSet) string { return vs.Category })
}

func (c *Catalog) distinct(field func(*ValueSet) string) []string {
	seen := map[string]bool{}
	var out []string
	for _, vs := range c.sets {
		v := field(vs)
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// ByURL resolves a FHIR canonical, optionally versioned as "url|version".
// "urn:oid:<oid>" matches the OID, anything else is treated as a key. A
// version matches either the expansion version or the catalog version
// ("v2026"). An OID shared by several value sets that the version does not
// narrow down is ambiguous.
func (c *Catalog) ByURL(url string) (*ValueSet, error) {
	url, version, _ := strings.Cut(url, "|")
	oid, ok := strings.CutPrefix(url, "urn:oid:")
	if !ok {
		vs, err := c.Get(url)
		if err != nil {
			return nil, err
		}
		if version != "" && !vs.hasVersion(version) {
			return nil, fmt.Errorf("%w: %s|%s", ErrNotFound, url, version)
		}
		return vs, nil
	}

	var matches []string
	for _, key := range c.Keys() {
		vs := c.sets[key]
		if vs.OID == oid && (version == "" || vs.hasVersion(version)) {
			matches = append(matches, key)
		}
	}
	switch len(matches) {
	case 0:
		if version != "" {
			return nil, fmt.Errorf("%w: %s|%s", ErrNotFound, url, version)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	case 1:
		return c.sets[matches[0]], nil
	default:
		return nil, fmt.Errorf("%w: %s matches %s", ErrAmbiguous, url, strings.Join(matches, ", "))
	}
}

func (vs *ValueSet) hasVersion(v string) bool {
	return v == vs.ExpansionVersion || v == vs.Version
}
