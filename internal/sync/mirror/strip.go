package mirror

import "github.com/mschirtzinger/flowsync/internal/sync/remote"

// StripAbsent returns a copy of v with nil values removed from every map and
// slice, at any depth. Non-container values are returned unchanged.
func StripAbsent(v any) any {
	switch val := v.(type) {
	case remote.Document:
		return remote.Document(stripMap(val))
	case map[string]any:
		return stripMap(val)
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if item == nil {
				continue
			}
			out = append(out, StripAbsent(item))
		}
		return out
	default:
		return v
	}
}

// StripDocument is StripAbsent for a document.
func StripDocument(doc remote.Document) remote.Document {
	return remote.Document(stripMap(doc))
}

func stripMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, item := range m {
		if item == nil {
			continue
		}
		out[k] = StripAbsent(item)
	}
	return out
}
