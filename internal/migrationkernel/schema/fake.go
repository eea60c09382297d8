package schema

import "github.com/brianvoe/gofakeit/v6"

// FieldsProvider lets GenerateMock reach the underlying FieldMap of any Node
// implementation without type-switching on concrete types. FieldMap itself
// implements it, and so can any other Node the authoring DSL produces.
type FieldsProvider interface {
	Fields() FieldMap
}

// GenerateMock produces one schema-shaped document using the given faker.
// Nodes that don't expose a FieldsProvider (e.g. a bare union) generate an
// empty document; callers generating union-typed populations should
// generate per-variant instead (validate.go does this, since it already
// knows each variant's type name).
func GenerateMock(n Node, faker *gofakeit.Faker) map[string]any {
	fp, ok := n.(FieldsProvider)
	if !ok {
		return map[string]any{}
	}
	return generateFromFields(fp.Fields(), faker)
}

func generateFromFields(fm FieldMap, faker *gofakeit.Faker) map[string]any {
	out := map[string]any{}
	for name, f := range fm {
		out[name] = generateValue(name, f, faker)
	}
	return out
}

func generateValue(name string, f Field, faker *gofakeit.Faker) any {
	if f.Nullable && faker.Bool() && !f.Required {
		return nil
	}
	switch f.Kind {
	case KindString:
		return generateString(name, faker)
	case KindInt:
		lo, hi := 0, 1000
		if f.Min != nil {
			lo = int(*f.Min)
		}
		if f.Max != nil {
			hi = int(*f.Max)
		}
		if hi <= lo {
			hi = lo + 1
		}
		return faker.Number(lo, hi)
	case KindFloat:
		lo, hi := float64(0), float64(1000)
		if f.Min != nil {
			lo = *f.Min
		}
		if f.Max != nil {
			hi = *f.Max
		}
		return faker.Float64Range(lo, hi)
	case KindBool:
		return faker.Bool()
	case KindTime:
		return faker.Date()
	case KindObject:
		if f.Of != nil {
			return generateFromFields(*f.Of, faker)
		}
		return map[string]any{}
	case KindArray:
		if f.Item == nil {
			return []any{}
		}
		n := faker.Number(1, 3)
		items := make([]any, n)
		for i := range items {
			items[i] = generateValue(name, *f.Item, faker)
		}
		return items
	default:
		return faker.Word()
	}
}

// generateString picks a faker by field-name convention so generated
// populations look like real data where it matters (emails stay emails).
func generateString(name string, faker *gofakeit.Faker) string {
	switch name {
	case "email":
		return faker.Email()
	case "name":
		return faker.Name()
	case "id", "_id":
		return faker.UUID()
	case "url":
		return faker.URL()
	default:
		return faker.Word()
	}
}
