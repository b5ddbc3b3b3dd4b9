// Catalog loading. The catalog is an explicitly initialised, read-only
// resource with a load-once lifecycle: main loads it at startup and injects
// it into the HTTP server. Nothing mutates it afterwards.

package passage

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the set of passages available for practice, keyed by Ref.
// It is immutable after construction and safe for concurrent use.
type Catalog struct {
	passages map[string]*entry
	refs     []string
}

// entry pairs a passage with its derived reference so indexing happens once
// per passage, not once per request.
type entry struct {
	passage   *Passage
	reference *Reference
}

// NewCatalog builds a catalog from the given passages. Duplicate refs and
// passages without a ref are rejected.
func NewCatalog(passages []*Passage) (*Catalog, error) {
	c := &Catalog{passages: make(map[string]*entry, len(passages))}
	for _, p := range passages {
		if p.Ref == "" {
			return nil, fmt.Errorf("passage: passage %q has no ref", p.Title)
		}
		if _, ok := c.passages[p.Ref]; ok {
			return nil, fmt.Errorf("passage: duplicate ref %q", p.Ref)
		}
		for i := range p.Lines {
			p.Lines[i].Index = i
		}
		c.passages[p.Ref] = &entry{passage: p, reference: BuildReference(p)}
		c.refs = append(c.refs, p.Ref)
	}
	sort.Strings(c.refs)
	return c, nil
}

// Get returns the passage and its indexed reference for ref.
// ok is false when ref is unknown.
func (c *Catalog) Get(ref string) (p *Passage, r *Reference, ok bool) {
	e, ok := c.passages[ref]
	if !ok {
		return nil, nil, false
	}
	return e.passage, e.reference, true
}

// Refs returns all passage refs in sorted order.
func (c *Catalog) Refs() []string {
	out := make([]string, len(c.refs))
	copy(out, c.refs)
	return out
}

// Len returns the number of passages in the catalog.
func (c *Catalog) Len() int { return len(c.passages) }

// passageFile is the top-level structure of a passage YAML file.
//
// Example:
//
//	ref: hamlet-3-1
//	title: "Hamlet — Act III, Scene 1"
//	lines:
//	  - front: "HAMLET"
//	    back: "To be, or not to be, that is the question:"
type passageFile struct {
	Ref   string `yaml:"ref"`
	Title string `yaml:"title"`
	Lines []Line `yaml:"lines"`
}

// LoadFile reads and parses a single passage YAML file from disk.
func LoadFile(path string) (*Passage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("passage: open %q: %w", path, err)
	}
	defer f.Close()

	p, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("passage: parse %q: %w", path, err)
	}
	return p, nil
}

// LoadFromReader parses passage YAML from an [io.Reader]. The reader is
// consumed entirely; the caller is responsible for closing it.
func LoadFromReader(r io.Reader) (*Passage, error) {
	var pf passageFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("passage: decode yaml: %w", err)
	}
	return &Passage{Ref: pf.Ref, Title: pf.Title, Lines: pf.Lines}, nil
}

// LoadCatalogDir loads every *.yaml/*.yml file under dir (non-recursive) and
// builds a catalog from them.
func LoadCatalogDir(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("passage: read catalog dir %q: %w", dir, err)
	}

	var passages []*Passage
	for _, de := range entries {
		if de.IsDir() || !isYAML(de) {
			continue
		}
		p, err := LoadFile(filepath.Join(dir, de.Name()))
		if err != nil {
			return nil, err
		}
		passages = append(passages, p)
	}
	return NewCatalog(passages)
}

func isYAML(de fs.DirEntry) bool {
	ext := strings.ToLower(filepath.Ext(de.Name()))
	return ext == ".yaml" || ext == ".yml"
}
