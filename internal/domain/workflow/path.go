package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// ResolvePath walks a dot-path into a step output value. Segments
// index maps by key and slices by decimal position, e.g.
// "result.items.0.name". An empty path returns the value unchanged.
// A missing key, out-of-range index, or non-traversable value is an
// error; mapped inputs are never silently defaulted.
func ResolvePath(v any, path string) (any, error) {
	if path == "" {
		return v, nil
	}
	cursor := v
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return nil, fmt.Errorf("path %q has an empty segment", path)
		}
		switch typed := cursor.(type) {
		case map[string]any:
			next, ok := typed[segment]
			if !ok {
				return nil, fmt.Errorf("path %q: key %q not found", path, segment)
			}
			cursor = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil {
				return nil, fmt.Errorf("path %q: %q is not an array index", path, segment)
			}
			if idx < 0 || idx >= len(typed) {
				return nil, fmt.Errorf("path %q: index %d out of range (len %d)", path, idx, len(typed))
			}
			cursor = typed[idx]
		default:
			return nil, fmt.Errorf("path %q: cannot descend into %T at %q", path, cursor, segment)
		}
	}
	return cursor, nil
}
