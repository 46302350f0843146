package document

// Lookup walks path through nested objects.
func Lookup(doc map[string]any, path ...string) (any, bool) {
	if doc == nil || len(path) == 0 {
		return nil, false
	}
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Object returns the nested object at path, creating it (and replacing any
// non-object value on the way) when missing.
func Object(doc map[string]any, path ...string) map[string]any {
	cur := doc
	for _, key := range path {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	return cur
}

// Set stores value at path, creating intermediate objects.
func Set(doc map[string]any, value any, path ...string) {
	if doc == nil || len(path) == 0 {
		return
	}
	parent := Object(doc, path[:len(path)-1]...)
	parent[path[len(path)-1]] = value
}
