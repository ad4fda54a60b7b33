package schema

// FieldType is the engine-neutral column type used in schema description files.
type FieldType string

const (
	Integer   FieldType = "integer"
	Number    FieldType = "number"
	Float     FieldType = "float"
	Char      FieldType = "char"
	Text      FieldType = "text"
	Binary    FieldType = "binary"
	Timestamp FieldType = "timestamp"
	Datetime  FieldType = "datetime"
)

// maxIntegerLength caps integer digit counts for comparison; engines report
// anything wider as a 64-bit column anyway.
const maxIntegerLength = 18

// KeyType classifies a declared key.
type KeyType string

const (
	Primary       KeyType = "primary"
	Unique        KeyType = "unique"
	Foreign       KeyType = "foreign"
	ForeignUnique KeyType = "foreign-unique"
)

// Structure is the complete declared schema: an ordered list of tables plus a
// version tag. Ordering is a property of the slice; tables carry no links to
// their siblings.
type Structure struct {
	Version string   `yaml:"version,omitempty"`
	Tables  []*Table `yaml:"tables"`
}

// Table is one declared table, identified by its unprefixed name.
type Table struct {
	Name    string   `yaml:"name"`
	Comment string   `yaml:"comment,omitempty"`
	Fields  []*Field `yaml:"fields"`
	Keys    []*Key   `yaml:"keys,omitempty"`
	Indexes []*Index `yaml:"indexes,omitempty"`
}

// Field is one declared column.
type Field struct {
	Name     string    `yaml:"name"`
	Type     FieldType `yaml:"type"`
	Length   int       `yaml:"length,omitempty"`
	Decimals int       `yaml:"decimals,omitempty"`
	NotNull  bool      `yaml:"notnull,omitempty"`
	Default  *string   `yaml:"default,omitempty"`
	Sequence bool      `yaml:"sequence,omitempty"`
}

// Key is a declared primary/unique/foreign key. Foreign variants carry the
// referenced table and columns.
type Key struct {
	Name      string   `yaml:"name"`
	Type      KeyType  `yaml:"type"`
	Fields    []string `yaml:"fields"`
	RefTable  string   `yaml:"reftable,omitempty"`
	RefFields []string `yaml:"reffields,omitempty"`
}

// Index is a declared index. Two indexes are logically equal when their column
// name sequences are identical, not merely the same set.
type Index struct {
	Name   string   `yaml:"name"`
	Unique bool     `yaml:"unique,omitempty"`
	Fields []string `yaml:"fields"`
}

// Table returns the declared table with the given name, or nil.
func (s *Structure) Table(name string) *Table {
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Filtered returns a new Structure containing only tables whose names are in
// limit (when limit is non-empty) and not in exclude (when exclude is
// non-empty). The receiver is not modified; tables are shared, not copied.
func (s *Structure) Filtered(limit, exclude []string) *Structure {
	out := &Structure{Version: s.Version}
	for _, t := range s.Tables {
		if len(limit) > 0 && !contains(limit, t.Name) {
			continue
		}
		if len(exclude) > 0 && contains(exclude, t.Name) {
			continue
		}
		out.Tables = append(out.Tables, t)
	}
	return out
}

// Field returns the declared field with the given name, or nil.
func (t *Table) Field(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// PrimaryKey returns the table's primary key, or nil.
func (t *Table) PrimaryKey() *Key {
	for _, k := range t.Keys {
		if k.Type == Primary {
			return k
		}
	}
	return nil
}

// ComparisonType is the type used for all diffing and alignment: float columns
// compare as number.
func (f *Field) ComparisonType() FieldType {
	if f.Type == Float {
		return Number
	}
	return f.Type
}

// EffectiveLength is the declared length as used for comparison; integer
// lengths are clamped.
func (f *Field) EffectiveLength() int {
	if f.Type == Integer && f.Length > maxIntegerLength {
		return maxIntegerLength
	}
	return f.Length
}

// HasDefault reports whether the field declares an explicit default. A
// declared empty string counts; an absent value does not.
func (f *Field) HasDefault() bool {
	return f.Default != nil
}

// Unique reports whether a key of this type is backed by a unique index.
func (k *Key) Unique() bool {
	return k.Type == Unique || k.Type == ForeignUnique
}

// SupportingIndex returns the synthetic index that backs this key: same name,
// same column sequence, unique for unique and foreign-unique keys.
func (k *Key) SupportingIndex() *Index {
	return &Index{
		Name:   k.Name,
		Unique: k.Unique(),
		Fields: append([]string(nil), k.Fields...),
	}
}

// SameColumns reports whether the index covers the identical column sequence.
func (i *Index) SameColumns(cols []string) bool {
	if len(i.Fields) != len(cols) {
		return false
	}
	for n := range i.Fields {
		if i.Fields[n] != cols[n] {
			return false
		}
	}
	return true
}

// SameColumnSet reports whether the index covers the same columns in any order.
func (i *Index) SameColumnSet(cols []string) bool {
	if len(i.Fields) != len(cols) {
		return false
	}
	set := make(map[string]int, len(i.Fields))
	for _, c := range i.Fields {
		set[c]++
	}
	for _, c := range cols {
		if set[c] == 0 {
			return false
		}
		set[c]--
	}
	return true
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}
