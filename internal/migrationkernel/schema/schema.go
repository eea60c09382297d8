// Package schema defines the small set of capabilities the rest of the
// kernel needs from a schema node, regardless of what authored it: runtime
// validation, store-side validator emission, and index-annotation
// extraction. FieldMap below is the concrete, minimal DSL this repository
// ships so the contract has a real implementation to build and test
// against, but every other package in the kernel only ever depends on the
// Node interface.
package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ParseResult is the outcome of Node.Parse: either a normalized document or
// a list of human-readable issues.
type ParseResult struct {
	OK     bool
	Output map[string]any
	Issues []string
}

// IndexAnnotation is one entry of the sequence returned by
// Node.ExtractIndexes: a dot-joined field path plus whether it must be
// unique.
type IndexAnnotation struct {
	Path   string
	Unique bool
}

// Node is the runtime contract the kernel requires of any schema node.
type Node interface {
	// Parse validates and normalizes value, applying default-injection,
	// trimming, and nullable/optional handling.
	Parse(value map[string]any) ParseResult
	// EmitStoreValidator returns a JSON-Schema-like object suitable for the
	// store's native validator feature.
	EmitStoreValidator() map[string]any
	// ExtractIndexes walks the schema for index annotations at any depth.
	ExtractIndexes() []IndexAnnotation
	// SanitizePathName deterministically maps a dot path to a legal index name.
	SanitizePathName(path string) string
}

// Kind enumerates the primitive shapes a Field can declare.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindTime   Kind = "time"
	KindObject Kind = "object"
	KindArray  Kind = "array"
)

// Field describes one property of a FieldMap.
type Field struct {
	Kind     Kind
	Required bool
	Nullable bool
	Unique   bool // extracted as a unique index annotation
	Index    bool // extracted as a non-unique index annotation
	Default  any
	Pattern  string
	Min      *float64
	Max      *float64
	Of       *FieldMap // nested object shape, when Kind == KindObject
	Item     *Field    // element shape, when Kind == KindArray
}

// FieldMap is the reference Node implementation: a plain name -> Field map,
// the shape every "collections"/"multiCollections"/"multiModels" leaf in
// SchemaSet ultimately resolves to.
type FieldMap map[string]Field

var _ Node = FieldMap{}

// Fields satisfies FieldsProvider so fake.go can generate a population
// without type-switching on the concrete Node implementation.
func (fm FieldMap) Fields() FieldMap { return fm }

func (f Field) validatorTag() string {
	var tags []string
	if f.Pattern != "" {
		// go-playground/validator doesn't accept raw regex via tag syntax
		// well (commas/pipes collide with tag grammar), so Pattern is
		// enforced separately in Parse; the tag only carries numeric bounds.
		_ = f.Pattern
	}
	if f.Min != nil {
		tags = append(tags, "min="+trimFloat(*f.Min))
	}
	if f.Max != nil {
		tags = append(tags, "max="+trimFloat(*f.Max))
	}
	return strings.Join(tags, ",")
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Parse implements Node.
func (fm FieldMap) Parse(value map[string]any) ParseResult {
	out := map[string]any{}
	var issues []string

	for name, f := range fm {
		v, present := value[name]
		if !present || v == nil {
			if f.Default != nil {
				out[name] = f.Default
				continue
			}
			if present && v == nil {
				if f.Nullable {
					out[name] = nil
					continue
				}
				issues = append(issues, fmt.Sprintf("%s: must not be null", name))
				continue
			}
			if f.Required {
				issues = append(issues, fmt.Sprintf("%s: required", name))
			}
			continue
		}

		if s, ok := v.(string); ok {
			v = strings.TrimSpace(s)
		}

		if err := validateField(name, f, v); err != nil {
			issues = append(issues, err.Error())
			continue
		}

		if f.Kind == KindObject && f.Of != nil {
			nested, ok := v.(map[string]any)
			if !ok {
				issues = append(issues, fmt.Sprintf("%s: expected object", name))
				continue
			}
			res := f.Of.Parse(nested)
			if !res.OK {
				for _, issue := range res.Issues {
					issues = append(issues, name+"."+issue)
				}
				continue
			}
			out[name] = res.Output
			continue
		}

		out[name] = v
	}

	if len(issues) > 0 {
		return ParseResult{OK: false, Issues: issues}
	}
	return ParseResult{OK: true, Output: out}
}

func validateField(name string, f Field, v any) error {
	if f.Pattern != "" {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s: expected string for pattern check", name)
		}
		if err := validate.Var(s, "required"); err != nil {
			return fmt.Errorf("%s: %v", name, err)
		}
		if !matchesPattern(s, f.Pattern) {
			return fmt.Errorf("%s: does not match pattern %q", name, f.Pattern)
		}
	}
	if tag := f.validatorTag(); tag != "" {
		if err := validate.Var(v, tag); err != nil {
			return fmt.Errorf("%s: %v", name, err)
		}
	}
	return nil
}

// EmitStoreValidator implements Node, producing the JSON-Schema-like
// document the store's native validator feature understands
// (bsonType/properties/required/...).
func (fm FieldMap) EmitStoreValidator() map[string]any {
	properties := map[string]any{}
	var required []string

	names := make([]string, 0, len(fm))
	for name := range fm {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f := fm[name]
		properties[name] = fieldValidator(f)
		if f.Required && !f.Nullable {
			required = append(required, name)
		}
	}

	out := map[string]any{
		"bsonType":             "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func fieldValidator(f Field) map[string]any {
	out := map[string]any{"bsonType": bsonType(f)}
	if f.Pattern != "" {
		out["pattern"] = f.Pattern
	}
	if f.Min != nil {
		if f.Kind == KindString {
			out["minLength"] = *f.Min
		} else {
			out["minimum"] = *f.Min
		}
	}
	if f.Max != nil {
		if f.Kind == KindString {
			out["maxLength"] = *f.Max
		} else {
			out["maximum"] = *f.Max
		}
	}
	if f.Kind == KindObject && f.Of != nil {
		nested := f.Of.EmitStoreValidator()
		out["properties"] = nested["properties"]
		if req, ok := nested["required"]; ok {
			out["required"] = req
		}
	}
	if f.Kind == KindArray && f.Item != nil {
		out["items"] = fieldValidator(*f.Item)
	}
	return out
}

func bsonType(f Field) any {
	var t string
	switch f.Kind {
	case KindString:
		t = "string"
	case KindInt:
		t = "int"
	case KindFloat:
		t = "double"
	case KindBool:
		t = "bool"
	case KindTime:
		t = "date"
	case KindObject:
		t = "object"
	case KindArray:
		t = "array"
	default:
		t = "string"
	}
	if f.Nullable {
		return []string{t, "null"}
	}
	return t
}

// ExtractIndexes implements Node, walking nested fields at any depth.
func (fm FieldMap) ExtractIndexes() []IndexAnnotation {
	return extractIndexes(fm, "")
}

func extractIndexes(fm FieldMap, prefix string) []IndexAnnotation {
	names := make([]string, 0, len(fm))
	for name := range fm {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []IndexAnnotation
	for _, name := range names {
		f := fm[name]
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if f.Unique || f.Index {
			out = append(out, IndexAnnotation{Path: path, Unique: f.Unique})
		}
		if f.Kind == KindObject && f.Of != nil {
			out = append(out, extractIndexes(*f.Of, path)...)
		}
	}
	return out
}

// SanitizePathName implements Node: a deterministic dot-path -> index-name
// mapping.
func (fm FieldMap) SanitizePathName(path string) string {
	return sanitizePathName(path)
}

func sanitizePathName(path string) string {
	replaced := strings.ReplaceAll(path, ".", "_")
	return replaced + "_idx"
}

func matchesPattern(s, pattern string) bool {
	re, err := compileCache(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
