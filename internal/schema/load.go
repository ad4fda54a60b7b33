package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var validTypes = map[FieldType]bool{
	Integer: true, Number: true, Float: true, Char: true,
	Text: true, Binary: true, Timestamp: true, Datetime: true,
}

var validKeyTypes = map[KeyType]bool{
	Primary: true, Unique: true, Foreign: true, ForeignUnique: true,
}

// LoadFile reads and validates a schema description file.
func LoadFile(path string) (*Structure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	return Load(data)
}

// Load parses and validates a schema description document.
func Load(data []byte) (*Structure, error) {
	s := &Structure{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WriteFile writes the structure out as a schema description file.
func (s *Structure) WriteFile(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling schema: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the structural invariants of a declared schema.
func (s *Structure) Validate() error {
	seen := make(map[string]bool, len(s.Tables))
	for _, t := range s.Tables {
		if t.Name == "" {
			return fmt.Errorf("table with empty name")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate table %q", t.Name)
		}
		seen[t.Name] = true
		if err := t.validate(); err != nil {
			return fmt.Errorf("table %q: %w", t.Name, err)
		}
	}
	return nil
}

func (t *Table) validate() error {
	fields := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if f.Name == "" {
			return fmt.Errorf("field with empty name")
		}
		if fields[f.Name] {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		fields[f.Name] = true

		if !validTypes[f.Type] {
			return fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
		}
		switch f.Type {
		case Char, Text, Binary:
			if f.Decimals != 0 {
				return fmt.Errorf("field %q: decimals not allowed for %s", f.Name, f.Type)
			}
		case Number, Float:
			if f.Decimals > f.Length {
				return fmt.Errorf("field %q: decimals %d exceed length %d", f.Name, f.Decimals, f.Length)
			}
		}
	}

	for _, k := range t.Keys {
		if !validKeyTypes[k.Type] {
			return fmt.Errorf("key %q: unknown type %q", k.Name, k.Type)
		}
		if len(k.Fields) == 0 {
			return fmt.Errorf("key %q: no fields", k.Name)
		}
		for _, c := range k.Fields {
			if !fields[c] {
				return fmt.Errorf("key %q: unknown field %q", k.Name, c)
			}
		}
		if k.Type == Foreign || k.Type == ForeignUnique {
			if k.RefTable == "" {
				return fmt.Errorf("key %q: foreign key without reftable", k.Name)
			}
			if len(k.RefFields) != len(k.Fields) {
				return fmt.Errorf("key %q: reffields count differs from fields", k.Name)
			}
		}
	}

	for _, i := range t.Indexes {
		if len(i.Fields) == 0 {
			return fmt.Errorf("index %q: no fields", i.Name)
		}
		for _, c := range i.Fields {
			if !fields[c] {
				return fmt.Errorf("index %q: unknown field %q", i.Name, c)
			}
		}
	}
	return nil
}
