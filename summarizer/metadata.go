package summarizer

import "strings"

// Well-known metadata keys added by the pipeline before summarization.
const (
	KeyDocumentTitle = "Confluence document title"
	KeyAltText       = "Image HTML alt text"
)

type entry struct {
	key, value string
}

// Metadata is an ordered set of key/value pairs describing where an image
// came from. The zero value is empty and ready to use.
type Metadata struct {
	entries []entry
}

// NewMetadata returns metadata holding kv, a list of alternating keys and
// values. A trailing key without a value is ignored.
func NewMetadata(kv ...string) Metadata {
	var md Metadata
	for i := 0; i+1 < len(kv); i += 2 {
		md.Set(kv[i], kv[i+1])
	}
	return md
}

// Set replaces the value of key in place, or appends it.
func (m *Metadata) Set(key, value string) {
	for i := range m.entries {
		if m.entries[i].key == key {
			m.entries[i].value = value
			return
		}
	}
	m.entries = append(m.entries, entry{key, value})
}

func (m Metadata) Get(key string) (string, bool) {
	for _, e := range m.entries {
		if e.key == key {
			return e.value, true
		}
	}
	return "", false
}

func (m Metadata) Len() int { return len(m.entries) }

// Clone returns a copy that can be modified without affecting m.
func (m Metadata) Clone() Metadata {
	return Metadata{entries: append([]entry(nil), m.entries...)}
}

// Keys returns the keys in insertion order.
func (m Metadata) Keys() []string {
	keys := make([]string, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.key
	}
	return keys
}

// String flattens the metadata to one key=value pair per line.
func (m Metadata) String() string {
	var sb strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(e.key)
		sb.WriteByte('=')
		sb.WriteString(e.value)
	}
	return sb.String()
}
