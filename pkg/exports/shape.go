package exports

import (
	"encoding/json"
	"sort"

	"github.com/relaydb/relay/pkg/types"
)

// generatedShape is a coarse stand-in for the original's shape_inference
// crate: the set of JS-visible type tags observed for each top-level
// field across every document sampled from a table, rather than a full
// structural union/intersection shape lattice. Good enough for a
// snapshot export's generated_schema.jsonl, which downstream tooling
// treats as informational.
type generatedShape struct {
	fieldTypes map[string]map[string]bool
	sampled    int
}

func newGeneratedShape() *generatedShape {
	return &generatedShape{fieldTypes: make(map[string]map[string]bool)}
}

func (g *generatedShape) observe(v types.Value) {
	g.sampled++
	if v.Kind != types.KindObject {
		return
	}
	for _, f := range v.Object {
		set, ok := g.fieldTypes[f.Name]
		if !ok {
			set = make(map[string]bool)
			g.fieldTypes[f.Name] = set
		}
		set[kindTag(f.Value)] = true
	}
}

func kindTag(v types.Value) string {
	switch v.Kind {
	case types.KindNull:
		return "null"
	case types.KindInt64:
		return "int64"
	case types.KindFloat64:
		return "float64"
	case types.KindBool:
		return "boolean"
	case types.KindString:
		return "string"
	case types.KindBytes:
		return "bytes"
	case types.KindArray:
		return "array"
	case types.KindSet:
		return "set"
	case types.KindMap:
		return "map"
	case types.KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// MarshalJSONLine renders the inferred shape as the single JSON line
// generated_schema.jsonl carries: a field name to sorted list of
// observed type tags, plus the number of documents the shape was
// inferred from.
func (g *generatedShape) MarshalJSONLine() ([]byte, error) {
	fields := make(map[string][]string, len(g.fieldTypes))
	for name, set := range g.fieldTypes {
		tags := make([]string, 0, len(set))
		for tag := range set {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		fields[name] = tags
	}
	line, err := json.Marshal(map[string]any{
		"sampled": g.sampled,
		"fields":  fields,
	})
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}
