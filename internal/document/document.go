package document

// Document is a nested configuration document: a map of string keys to
// scalars, lists, or further nested maps. It is the shape both the merge
// engine and the document store operate on.
type Document = map[string]any

// Merge combines an existing document with a sparse set of overrides and
// returns a new document. When both sides hold a nested map under the same
// key the maps are merged recursively; any other override value replaces the
// existing value wholesale, lists included. Keys absent from overrides are
// left untouched. Neither input is modified.
func Merge(existing, overrides Document) Document {
	result := make(Document, len(existing)+len(overrides))
	for k, v := range existing {
		result[k] = v
	}
	for k, v := range overrides {
		sub, ok := v.(map[string]any)
		if !ok {
			result[k] = v
			continue
		}
		base, ok := result[k].(map[string]any)
		if !ok {
			result[k] = v
			continue
		}
		result[k] = Merge(base, sub)
	}
	return result
}

// StripNil removes nil-valued keys, recursing into nested maps. Sparse
// override documents decoded from JSON carry explicit nulls for unset
// fields; those must be excluded before Merge so they do not clobber
// existing values.
func StripNil(doc Document) Document {
	result := make(Document, len(doc))
	for k, v := range doc {
		if v == nil {
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			result[k] = StripNil(sub)
			continue
		}
		result[k] = v
	}
	return result
}

// Flatten collapses nested maps into dotted paths:
//
//	{"a": {"b": 1, "c": 2}, "x": 3} => {"a.b": 1, "a.c": 2, "x": 3}
//
// The store adapter uses this to express nested term filters.
func Flatten(doc Document) Document {
	result := make(Document, len(doc))
	flattenInto(result, "", doc)
	return result
}

func flattenInto(dst Document, prefix string, doc Document) {
	for k, v := range doc {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flattenInto(dst, key, sub)
			continue
		}
		dst[key] = v
	}
}
