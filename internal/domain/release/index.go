package release

import "maps"

// IndexAPIVersion is the apiVersion written into new index documents.
const IndexAPIVersion = "v1"

// IndexEntry is a published chart record. Fields this tool does not know
// about are kept in Extra so untouched entries round-trip unchanged.
type IndexEntry struct {
	APIVersion  string         `yaml:"apiVersion,omitempty"`
	AppVersion  string         `yaml:"appVersion,omitempty"`
	Created     string         `yaml:"created,omitempty"`
	Description string         `yaml:"description,omitempty"`
	Digest      string         `yaml:"digest,omitempty"`
	Icon        string         `yaml:"icon,omitempty"`
	Name        string         `yaml:"name"`
	URLs        []string       `yaml:"urls,omitempty"`
	Version     string         `yaml:"version"`
	Extra       map[string]any `yaml:",inline"`
}

// IndexDocument is the repository index. Entries are keyed by chart name.
type IndexDocument struct {
	APIVersion string                 `yaml:"apiVersion"`
	Entries    map[string]*IndexEntry `yaml:"entries"`
	Generated  string                 `yaml:"generated"`
	Extra      map[string]any         `yaml:",inline"`
}

// NewIndexDocument creates an empty index document.
func NewIndexDocument() *IndexDocument {
	return &IndexDocument{
		APIVersion: IndexAPIVersion,
		Entries:    make(map[string]*IndexEntry),
	}
}

// Upsert replaces the entry stored under entry.Name wholesale.
func (d *IndexDocument) Upsert(entry *IndexEntry) {
	if d.Entries == nil {
		d.Entries = make(map[string]*IndexEntry)
	}

	d.Entries[entry.Name] = entry
}

// Clone returns a copy whose entries map can be modified without touching the receiver.
func (d *IndexDocument) Clone() *IndexDocument {
	if d == nil {
		return nil
	}

	cloned := *d
	cloned.Entries = maps.Clone(d.Entries)
	cloned.Extra = maps.Clone(d.Extra)

	return &cloned
}
