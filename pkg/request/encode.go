package request

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// encodeData renders data for method. POST bodies and GET query strings are the only
// places data ends up; every other method drops it.
func encodeData(method string, data any) (string, error) {
	if isFalsy(data) {
		return "", nil
	}

	switch strings.ToUpper(method) {
	case http.MethodPost:
		switch v := data.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
		if !isObject(data) {
			return "", nil
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("encode request body: %w", err)
		}
		return string(raw), nil
	case http.MethodGet:
		switch v := data.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
		return encodeMapping(data)
	default:
		return "", nil
	}
}

// encodeQueries renders the extra query mapping. Strings are not accepted here.
func encodeQueries(queries any) (string, error) {
	if isFalsy(queries) {
		return "", nil
	}
	return encodeMapping(queries)
}

// encodeMapping joins the truthy entries of a mapping as key=value pairs separated by "&".
// Non-mapping values encode as the empty string.
func encodeMapping(data any) (string, error) {
	entries, ok, err := mappingEntries(data)
	if err != nil || !ok {
		return "", err
	}

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Key == "" || isFalsy(e.Value) {
			continue
		}
		parts = append(parts, e.Key+"="+stringify(e.Value))
	}
	return strings.Join(parts, "&"), nil
}

// mappingEntries flattens a mapping into ordered pairs. Go maps and structs have no
// declaration order to keep, so their entries come back sorted by key. Slices and
// arrays are keyed by index.
func mappingEntries(data any) (Pairs, bool, error) {
	if pairs, ok := data.(Pairs); ok {
		return pairs, true, nil
	}

	rv := reflect.ValueOf(data)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false, nil
		}
		out := make(Pairs, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out = append(out, Pair{Key: iter.Key().String(), Value: iter.Value().Interface()})
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
		return out, true, nil
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, false, nil
		}
		out := make(Pairs, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, Pair{Key: strconv.Itoa(i), Value: rv.Index(i).Interface()})
		}
		return out, true, nil
	case reflect.Struct:
		var m map[string]any
		if err := mapstructure.Decode(rv.Interface(), &m); err != nil {
			return nil, false, fmt.Errorf("decode query mapping: %w", err)
		}
		return mappingEntries(m)
	default:
		return nil, false, nil
	}
}

// isFalsy reports whether v counts as absent: nil, false, zero numbers, NaN, "" and nil references.
func isFalsy(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return !rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f == 0 || math.IsNaN(f)
	case reflect.String:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}

// isObject reports whether v is a composite value that serializes to a JSON object or array.
func isObject(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return true
	default:
		return false
	}
}

// stringify renders a query value. Lists join their elements with ",", nested
// mappings are rendered as JSON.
func stringify(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64)
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = stringify(rv.Index(i).Interface())
		}
		return strings.Join(parts, ",")
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return ""
		}
		return stringify(rv.Elem().Interface())
	case reflect.Map, reflect.Struct:
		if raw, err := json.Marshal(v); err == nil {
			return string(raw)
		}
	}
	return fmt.Sprint(v)
}

// buildPath appends the encoded query to path. GET always gets a "?", other methods
// only when there are extra queries.
func buildPath(method, path, dataStr, queries string) string {
	if path == "" {
		path = "/"
	}
	if strings.EqualFold(method, http.MethodGet) {
		return path + "?" + encodeURI(joinNonEmpty("&", dataStr, queries))
	}
	if queries != "" {
		return path + "?" + encodeURI(queries)
	}
	return path
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

const upperhex = "0123456789ABCDEF"

// encodeURI percent-encodes s while keeping URI syntax characters intact, so an
// already-assembled query like "a=1&b=2" survives unchanged. "#" is escaped: the
// result is always a query, and a literal "#" would cut it short as a fragment.
func encodeURI(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if keepInURI(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func keepInURI(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte(";,/?:@&=+$-_.!~*'()", c) >= 0
}
