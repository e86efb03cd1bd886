package schema

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/quarry-search/quarry/internal/types"
)

// FieldType enumerates the declarable field types.
type FieldType string

const (
	TypeText  FieldType = "text"
	TypeI64   FieldType = "i64"
	TypeU64   FieldType = "u64"
	TypeF64   FieldType = "f64"
	TypeFacet FieldType = "facet"
	TypeBytes FieldType = "bytes"
)

// TextIndexing holds the indexing options of a text field.
type TextIndexing struct {
	Record    string `json:"record"`
	Tokenizer string `json:"tokenizer"`
}

// FieldOptions covers both the text shape (indexing/stored) and the
// numeric shape (indexed/stored) of the schema JSON.
type FieldOptions struct {
	Indexing *TextIndexing `json:"indexing,omitempty"`
	Indexed  bool          `json:"indexed,omitempty"`
	Stored   bool          `json:"stored"`
}

// Field is one named, typed entry of a schema.
type Field struct {
	Name    string       `json:"name"`
	Type    FieldType    `json:"type"`
	Options FieldOptions `json:"options"`
}

// Indexed reports whether the field participates in the inverted index.
func (f Field) Indexed() bool {
	switch f.Type {
	case TypeText:
		return f.Options.Indexing != nil
	case TypeFacet:
		return true
	default:
		return f.Options.Indexed
	}
}

// HasPositions reports whether term positions are recorded, which phrase
// queries require.
func (f Field) HasPositions() bool {
	return f.Type == TypeText && f.Options.Indexing != nil && f.Options.Indexing.Record == "position"
}

// Numeric reports whether the field holds one of the numeric types.
func (f Field) Numeric() bool {
	return f.Type == TypeI64 || f.Type == TypeU64 || f.Type == TypeF64
}

// Schema is an ordered, typed field list. It is immutable once parsed.
type Schema struct {
	fields []Field
	byName map[string]int
}

// Parse decodes the schema JSON array and validates it.
func Parse(data []byte) (*Schema, error) {
	var fields []Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, types.QueryError("invalid schema: %v", err)
	}
	return New(fields)
}

// New builds a schema from an ordered field list.
func New(fields []Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, types.QueryError("schema declares no fields")
	}
	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			return nil, types.QueryError("schema field %d has no name", i)
		}
		switch f.Type {
		case TypeText, TypeI64, TypeU64, TypeF64, TypeFacet, TypeBytes:
		default:
			return nil, types.QueryError("schema field %s has unknown type %q", f.Name, f.Type)
		}
		if _, dup := byName[f.Name]; dup {
			return nil, types.QueryError("schema declares field %s twice", f.Name)
		}
		byName[f.Name] = i
	}
	return &Schema{fields: fields, byName: byName}, nil
}

// Field looks a field up by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Fields returns the fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// IndexedFields returns the names of all indexed fields in order.
func (s *Schema) IndexedFields() []string {
	var names []string
	for _, f := range s.fields {
		if f.Indexed() {
			names = append(names, f.Name)
		}
	}
	return names
}

func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.fields)
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// Mapping compiles the schema into a bleve index mapping. The compilation
// is deterministic: the same schema always yields the same mapping.
func (s *Schema) Mapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()
	m.DefaultMapping.Dynamic = false
	m.StoreDynamic = false
	m.IndexDynamic = false

	for _, f := range s.fields {
		m.DefaultMapping.AddFieldMappingsAt(f.Name, fieldMapping(f))
	}
	return m
}

func fieldMapping(f Field) *mapping.FieldMapping {
	var fm *mapping.FieldMapping
	switch f.Type {
	case TypeText:
		fm = bleve.NewTextFieldMapping()
		fm.Index = f.Indexed()
		if f.Options.Indexing != nil {
			fm.IncludeTermVectors = f.Options.Indexing.Record == "position"
			if f.Options.Indexing.Tokenizer == "raw" {
				fm.Analyzer = keyword.Name
			}
		}
	case TypeI64, TypeU64, TypeF64:
		fm = bleve.NewNumericFieldMapping()
		fm.Index = f.Options.Indexed
	case TypeFacet:
		fm = bleve.NewKeywordFieldMapping()
	case TypeBytes:
		fm = bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		fm.Index = f.Options.Indexed
	}
	fm.Store = f.Options.Stored || f.Type == TypeFacet
	fm.IncludeInAll = f.Indexed()
	return fm
}

// ParseDocument validates a JSON document against the schema and returns
// the typed field map handed to the engine. Unknown keys and type
// mismatches fail with a query error.
func (s *Schema) ParseDocument(raw json.RawMessage) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, types.QueryError("invalid document: %v", err)
	}
	if len(doc) == 0 {
		return nil, types.QueryError("document has no fields")
	}

	out := make(map[string]interface{}, len(doc))
	for name, value := range doc {
		f, ok := s.Field(name)
		if !ok {
			return nil, types.UnknownField(name)
		}
		typed, err := coerceValue(f, value)
		if err != nil {
			return nil, err
		}
		out[name] = typed
	}
	return out, nil
}

func coerceValue(f Field, value interface{}) (interface{}, error) {
	switch f.Type {
	case TypeText:
		str, ok := value.(string)
		if !ok {
			return nil, types.QueryError("field %s expects a string, got %T", f.Name, value)
		}
		return str, nil
	case TypeI64:
		n, ok := value.(json.Number)
		if !ok {
			return nil, types.QueryError("field %s expects an integer, got %T", f.Name, value)
		}
		i, err := n.Int64()
		if err != nil {
			return nil, types.QueryError("field %s expects an i64 value: %v", f.Name, err)
		}
		return i, nil
	case TypeU64:
		n, ok := value.(json.Number)
		if !ok {
			return nil, types.QueryError("field %s expects an integer, got %T", f.Name, value)
		}
		i, err := n.Int64()
		if err != nil || i < 0 {
			return nil, types.QueryError("field %s expects a u64 value", f.Name)
		}
		return uint64(i), nil
	case TypeF64:
		n, ok := value.(json.Number)
		if !ok {
			return nil, types.QueryError("field %s expects a number, got %T", f.Name, value)
		}
		fl, err := n.Float64()
		if err != nil {
			return nil, types.QueryError("field %s expects an f64 value: %v", f.Name, err)
		}
		return fl, nil
	case TypeFacet:
		str, ok := value.(string)
		if !ok || !strings.HasPrefix(str, "/") {
			return nil, types.QueryError("field %s expects a slash-delimited facet path", f.Name)
		}
		return str, nil
	case TypeBytes:
		str, ok := value.(string)
		if !ok {
			return nil, types.QueryError("field %s expects base64 bytes, got %T", f.Name, value)
		}
		if _, err := base64.StdEncoding.DecodeString(str); err != nil {
			return nil, types.QueryError("field %s expects base64 bytes: %v", f.Name, err)
		}
		return str, nil
	}
	return nil, types.Internal("unhandled field type %q", f.Type)
}
