package tool

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
)

// ArgHash computes sha256(canonical(tool_name, args, kwargs)), hex
// encoded with a "sha256:" prefix for format versioning — the same
// convention used for idempotency keys elsewhere in the Runtime.
//
// Canonicalization sorts mapping keys and normalizes numeric/string
// representations so that equivalent argument sets (e.g. float64(2) vs
// int(2), or a map built in different key order) hash identically.
func ArgHash(toolName string, args, kwargs map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	writeCanonical(h, args)
	h.Write([]byte{0})
	writeCanonical(h, kwargs)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

type byteWriter interface {
	Write(p []byte) (n int, err error)
}

// writeCanonical writes a deterministic byte encoding of v: map keys are
// sorted, slices are walked in order, and scalars are normalized to a
// single textual form regardless of their concrete Go type.
func writeCanonical(w byteWriter, v interface{}) {
	switch val := v.(type) {
	case nil:
		w.Write([]byte("null"))
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w.Write([]byte{'{'})
		for i, k := range keys {
			if i > 0 {
				w.Write([]byte{','})
			}
			w.Write([]byte(strconv.Quote(k)))
			w.Write([]byte{':'})
			writeCanonical(w, val[k])
		}
		w.Write([]byte{'}'})
	case []interface{}:
		w.Write([]byte{'['})
		for i, item := range val {
			if i > 0 {
				w.Write([]byte{','})
			}
			writeCanonical(w, item)
		}
		w.Write([]byte{']'})
	case string:
		w.Write([]byte(strconv.Quote(val)))
	case bool:
		w.Write([]byte(strconv.FormatBool(val)))
	case float64:
		w.Write([]byte(normalizeNumber(val)))
	case float32:
		w.Write([]byte(normalizeNumber(float64(val))))
	case int:
		w.Write([]byte(normalizeNumber(float64(val))))
	case int64:
		w.Write([]byte(normalizeNumber(float64(val))))
	default:
		// Fallback for any concrete type not covered above (custom
		// structs passed as args): use its fmt representation, which is
		// at least stable for a given value.
		w.Write([]byte(fmt.Sprintf("%#v", val)))
	}
}

// normalizeNumber formats a float64 so that integral values (2.0) and
// their integer counterparts (2) produce the same canonical text.
func normalizeNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// canonicalJoin produces a deterministic, order-independent string from
// a set of names (used for registry identity).
func canonicalJoin(names []string) string {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)
	h := sha256.New()
	for _, n := range sorted {
		h.Write([]byte(n))
		h.Write([]byte{0})
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
