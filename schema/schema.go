// Package schema implements the table schema type system: the atomic and
// complex type vocabulary, the struct-schema JSON shape stored in
// MetaData.SchemaString, inference from row batches, and the compatibility
// checks the write path runs before accepting a schema change. DataType is
// a small closed set of Go types behind a common interface, switched over
// rather than type-asserted ad hoc.
package schema

import (
	"fmt"
	"sort"

	"github.com/dot-do/deltalake-sub003/errs"
)

// DataType is the sealed interface implemented by every type atom and
// complex type this engine understands.
type DataType interface {
	isDataType()
	String() string
}

// Primitive is an atomic scalar type named from a closed vocabulary.
type Primitive string

const (
	Boolean      Primitive = "boolean"
	Byte         Primitive = "byte"
	Short        Primitive = "short"
	Integer      Primitive = "integer"
	Long         Primitive = "long"
	Float        Primitive = "float"
	Double       Primitive = "double"
	Date         Primitive = "date"
	Timestamp    Primitive = "timestamp"
	TimestampNtz Primitive = "timestamp_ntz"
	String       Primitive = "string"
	Binary       Primitive = "binary"
	Variant      Primitive = "variant"
)

func (Primitive) isDataType()        {}
func (p Primitive) String() string   { return string(p) }

// Decimal is a fixed-precision numeric type, named "decimal(p,s)" in schema
// strings.
type Decimal struct {
	Precision int
	Scale     int
}

func (Decimal) isDataType() {}
func (d Decimal) String() string {
	return fmt.Sprintf("decimal(%d,%d)", d.Precision, d.Scale)
}

// ArrayType is an ordered, homogeneously typed list column.
type ArrayType struct {
	ElementType    DataType
	ContainsNull   bool
}

func (ArrayType) isDataType() {}
func (a ArrayType) String() string { return fmt.Sprintf("array<%s>", a.ElementType) }

// MapType is a key/value column.
type MapType struct {
	KeyType   DataType
	ValueType DataType
	ValueContainsNull bool
}

func (MapType) isDataType() {}
func (m MapType) String() string { return fmt.Sprintf("map<%s,%s>", m.KeyType, m.ValueType) }

// Field is one member of a StructType.
type Field struct {
	Name     string
	Type     DataType
	Nullable bool
	Metadata map[string]any
}

// StructType is the schema's top-level shape and the type of any nested
// struct column.
type StructType struct {
	Fields []Field
}

func (StructType) isDataType() {}
func (s StructType) String() string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return fmt.Sprintf("struct<%v>", names)
}

// FieldByName returns the field with the given name, or (Field{}, false).
func (s StructType) FieldByName(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// --- JSON wire shape ---
//
// The wire shape is an `any` tree rather than dedicated marshal/unmarshal
// structs: fields are bare strings for primitives and nested objects for
// array/map/struct, which encoding/json's generic map[string]any decoding
// handles directly (see FromJSONValue).

// ToJSONValue converts a DataType into the `any` tree that encoding/json
// will render (primitives as bare strings, decimal as a "decimal(p,s)"
// string, array/map/struct as nested objects).
func ToJSONValue(t DataType) any {
	switch v := t.(type) {
	case Primitive:
		return string(v)
	case Decimal:
		return v.String()
	case ArrayType:
		return map[string]any{
			"type":         "array",
			"elementType":  ToJSONValue(v.ElementType),
			"containsNull": v.ContainsNull,
		}
	case MapType:
		return map[string]any{
			"type":              "map",
			"keyType":           ToJSONValue(v.KeyType),
			"valueType":         ToJSONValue(v.ValueType),
			"valueContainsNull": v.ValueContainsNull,
		}
	case StructType:
		fields := make([]any, len(v.Fields))
		for i, f := range v.Fields {
			jf := map[string]any{
				"name":     f.Name,
				"type":     ToJSONValue(f.Type),
				"nullable": f.Nullable,
			}
			if f.Metadata != nil {
				jf["metadata"] = f.Metadata
			}
			fields[i] = jf
		}
		return map[string]any{"type": "struct", "fields": fields}
	default:
		return nil
	}
}

// FromJSONValue parses the `any` tree produced by encoding/json.Unmarshal
// (with UseNumber not assumed) back into a DataType.
func FromJSONValue(v any) (DataType, error) {
	switch val := v.(type) {
	case string:
		return parseTypeName(val)
	case map[string]any:
		kind, _ := val["type"].(string)
		switch kind {
		case "array":
			elem, err := FromJSONValue(val["elementType"])
			if err != nil {
				return nil, err
			}
			containsNull, _ := val["containsNull"].(bool)
			return ArrayType{ElementType: elem, ContainsNull: containsNull}, nil
		case "map":
			k, err := FromJSONValue(val["keyType"])
			if err != nil {
				return nil, err
			}
			vt, err := FromJSONValue(val["valueType"])
			if err != nil {
				return nil, err
			}
			valueContainsNull, _ := val["valueContainsNull"].(bool)
			return MapType{KeyType: k, ValueType: vt, ValueContainsNull: valueContainsNull}, nil
		case "struct":
			rawFields, _ := val["fields"].([]any)
			fields := make([]Field, 0, len(rawFields))
			for _, rf := range rawFields {
				fm, ok := rf.(map[string]any)
				if !ok {
					return nil, errs.New(errs.MalformedData, "struct field is not an object")
				}
				name, _ := fm["name"].(string)
				if name == "" {
					return nil, errs.New(errs.MalformedData, "struct field missing name")
				}
				ft, err := FromJSONValue(fm["type"])
				if err != nil {
					return nil, err
				}
				nullable, _ := fm["nullable"].(bool)
				var meta map[string]any
				if m, ok := fm["metadata"].(map[string]any); ok {
					meta = m
				}
				fields = append(fields, Field{Name: name, Type: ft, Nullable: nullable, Metadata: meta})
			}
			return StructType{Fields: fields}, nil
		default:
			return nil, errs.New(errs.MalformedData, "unrecognized complex type %q", kind)
		}
	default:
		return nil, errs.New(errs.MalformedData, "unrecognized schema node %T", v)
	}
}

func parseTypeName(name string) (DataType, error) {
	switch Primitive(name) {
	case Boolean, Byte, Short, Integer, Long, Float, Double, Date, Timestamp, TimestampNtz, String, Binary, Variant:
		return Primitive(name), nil
	}
	var precision, scale int
	if n, _ := fmt.Sscanf(name, "decimal(%d,%d)", &precision, &scale); n == 2 {
		return Decimal{Precision: precision, Scale: scale}, nil
	}
	return nil, errs.New(errs.MalformedData, "unrecognized primitive type name %q", name)
}

// --- Inference from row batches ---

// Infer scans every row of a batch (rather than stopping at the first row)
// so that leading nulls in a column don't force it to Variant, and promotes
// narrower numeric types to the widest one observed in that column
// (integer -> long -> double, float -> double), falling back to Variant for
// maps/arrays or genuinely mixed incompatible types.
func Infer(rows []map[string]any) StructType {
	order := []string{}
	seen := map[string]bool{}
	kinds := map[string]Primitive{}
	sawNonNull := map[string]bool{}
	sawNull := map[string]bool{}

	for _, row := range rows {
		for name, v := range row {
			if !seen[name] {
				seen[name] = true
				order = append(order, name)
			}
			if v == nil {
				sawNull[name] = true
				continue
			}
			sawNonNull[name] = true
			k := kindOf(v)
			cur, ok := kinds[name]
			if !ok {
				kinds[name] = k
				continue
			}
			kinds[name] = promote(cur, k)
		}
	}

	sort.Strings(order)
	fields := make([]Field, 0, len(order))
	for _, name := range order {
		t, ok := kinds[name]
		if !ok {
			t = Variant
		}
		fields = append(fields, Field{
			Name:     name,
			Type:     t,
			Nullable: sawNull[name] || !sawNonNull[name],
		})
	}
	return StructType{Fields: fields}
}

func kindOf(v any) Primitive {
	switch v.(type) {
	case bool:
		return Boolean
	case int, int32:
		return Integer
	case int64:
		return Long
	case float32:
		return Float
	case float64:
		return Double
	case string:
		return String
	case []byte:
		return Binary
	case map[string]any, []any:
		return Variant
	default:
		return Variant
	}
}

// promote implements the numeric widening lattice: integer < long < double,
// float < double; anything else that disagrees collapses to Variant.
func promote(a, b Primitive) Primitive {
	if a == b {
		return a
	}
	if a == Variant || b == Variant {
		return Variant
	}
	rank := map[Primitive]int{Integer: 1, Long: 2, Float: 1, Double: 3}
	ra, aok := rank[a]
	rb, bok := rank[b]
	if !aok || !bok {
		return Variant
	}
	if a == Float || b == Float {
		return Double
	}
	if ra >= rb {
		return a
	}
	return b
}

// --- Compatibility (schema evolution) ---

// CheckCompatible reports whether next can replace prev as the table's
// schema without breaking existing readers: every field present in prev
// must still exist in next with the same type (nullability may only widen,
// non-nullable -> nullable), and new fields in next must be nullable.
func CheckCompatible(prev, next StructType) error {
	for _, pf := range prev.Fields {
		nf, ok := next.FieldByName(pf.Name)
		if !ok {
			return errs.New(errs.SchemaIncompatible, "field %q dropped", pf.Name)
		}
		if nf.Type.String() != pf.Type.String() {
			return errs.New(errs.SchemaIncompatible, "field %q changed type from %s to %s", pf.Name, pf.Type, nf.Type)
		}
		if pf.Nullable && !nf.Nullable {
			return errs.New(errs.SchemaIncompatible, "field %q narrowed from nullable to non-nullable", pf.Name)
		}
	}
	prevNames := map[string]bool{}
	for _, pf := range prev.Fields {
		prevNames[pf.Name] = true
	}
	for _, nf := range next.Fields {
		if !prevNames[nf.Name] && !nf.Nullable {
			return errs.New(errs.SchemaIncompatible, "new field %q must be nullable", nf.Name)
		}
	}
	return nil
}
