package schema

import (
	"fmt"
	"sort"
)

// TypeField is the reserved discriminator every tagged variant carries.
const TypeField = "_type"

// InformationTypeName and MigrationsTypeName are the two reserved _type
// values metadata documents carry. User
// schemas must never declare a variant under these names.
const (
	InformationTypeName = "_information"
	MigrationsTypeName  = "_migrations"
)

// informationFields describes the _information metadata document.
var informationFields = FieldMap{
	"_id":            {Kind: KindString, Required: true},
	"_type":          {Kind: KindString, Required: true},
	"collectionType": {Kind: KindString, Required: true},
	"createdAt":      {Kind: KindTime, Required: true},
}

// migrationsFields describes the _migrations metadata document. The
// appliedMigrations array holds free-form entries ({id, appliedAt,
// mongodbeeVersion, operation}); FieldMap's array support doesn't model
// heterogeneous tuple shapes, so it is declared as an untyped array here.
// Its entries are not validated; registry.AppendApplied builds each one
// from a typed AppliedEntry.
var migrationsFields = FieldMap{
	"_id":               {Kind: KindString, Required: true},
	"_type":             {Kind: KindString, Required: true},
	"fromMigrationId":   {Kind: KindString, Required: true},
	"appliedMigrations": {Kind: KindArray, Required: true},
}

// unionNode implements Node as a discriminated union over {_type: literal
// T} ⊕ typeMap[T], synthesized for multi-collection/multi-model
// instances.
type unionNode struct {
	types map[string]Node
}

var _ Node = (*unionNode)(nil)

// Union composes a discriminated-union Node from a type name -> Node map.
func Union(types map[string]Node) Node {
	return &unionNode{types: types}
}

// MetadataUnion composes Union(types) extended with the two reserved
// metadata variants, so the store-side validator for a templated instance
// always admits _information/_migrations documents.
func MetadataUnion(types map[string]Node) Node {
	extended := make(map[string]Node, len(types)+2)
	for k, v := range types {
		extended[k] = v
	}
	extended[InformationTypeName] = informationFields
	extended[MigrationsTypeName] = migrationsFields
	return Union(extended)
}

func (u *unionNode) Parse(value map[string]any) ParseResult {
	t, _ := value[TypeField].(string)
	if t == "" {
		return ParseResult{OK: false, Issues: []string{TypeField + ": required"}}
	}
	n, ok := u.types[t]
	if !ok {
		return ParseResult{OK: false, Issues: []string{fmt.Sprintf(TypeField+": unknown variant %q", t)}}
	}
	res := n.Parse(value)
	if !res.OK {
		return res
	}
	out := make(map[string]any, len(res.Output)+1)
	for k, v := range res.Output {
		out[k] = v
	}
	out[TypeField] = t
	return ParseResult{OK: true, Output: out}
}

func (u *unionNode) EmitStoreValidator() map[string]any {
	names := sortedKeys(u.types)
	anyOf := make([]any, 0, len(names))
	for _, name := range names {
		variant := u.types[name].EmitStoreValidator()
		withTag := map[string]any{
			"bsonType": "object",
			"properties": mergeProps(map[string]any{
				TypeField: map[string]any{"enum": []string{name}},
			}, variant["properties"]),
		}
		if req, ok := variant["required"]; ok {
			withTag["required"] = appendRequired(req, TypeField)
		} else {
			withTag["required"] = []string{TypeField}
		}
		anyOf = append(anyOf, withTag)
	}
	return map[string]any{"anyOf": anyOf}
}

func mergeProps(base map[string]any, extra any) map[string]any {
	out := map[string]any{}
	for k, v := range base {
		out[k] = v
	}
	if m, ok := extra.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func appendRequired(req any, extra string) []string {
	var out []string
	if list, ok := req.([]string); ok {
		out = append(out, list...)
	}
	out = append(out, extra)
	return out
}

func (u *unionNode) ExtractIndexes() []IndexAnnotation {
	seen := map[string]bool{}
	var out []IndexAnnotation
	for _, name := range sortedKeys(u.types) {
		for _, idx := range u.types[name].ExtractIndexes() {
			if seen[idx.Path] {
				continue
			}
			seen[idx.Path] = true
			out = append(out, idx)
		}
	}
	return out
}

func (u *unionNode) SanitizePathName(path string) string {
	return sanitizePathName(path)
}

func sortedKeys(m map[string]Node) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
