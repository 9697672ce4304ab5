package cache

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// stableJSON canonically serialises v for use as cache-key input: object
// keys are sorted lexicographically, arrays preserve order, primitives are
// rendered as-is. Shared references are duplicated rather than flagged.
// v is expected to originate from decoded JSON (map[string]any/[]any/
// primitives), a shape that cannot contain true reference cycles.
func stableJSON(v any) (string, error) {
	var b strings.Builder
	if err := writeStable(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeStable(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
		return nil
	case string:
		b.WriteString(strconv.Quote(t))
		return nil
	case bool:
		b.WriteString(strconv.FormatBool(t))
		return nil
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
		return nil
	case int:
		b.WriteString(strconv.Itoa(t))
		return nil
	case map[string]any:
		return writeStableObject(b, t)
	case []any:
		return writeStableArray(b, t)
	default:
		return fmt.Errorf("stableJSON: unsupported type %T", v)
	}
}

func writeStableObject(b *strings.Builder, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		if err := writeStable(b, m[k]); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func writeStableArray(b *strings.Builder, arr []any) error {
	b.WriteByte('[')
	for i, v := range arr {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeStable(b, v); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}
