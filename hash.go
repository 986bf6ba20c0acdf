package daer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
)

// ComputeExecutionHash derives the stable digest an ExecutionSnapshot
// is keyed by: sha256 over the canonicalized tuple (task, policy_config,
// agent_identity+version, tool_registry_identity, runtime_version).
// Equal inputs, regardless of map key ordering, always produce the same
// hash — the same guarantee tool.ArgHash makes for tool arguments.
func ComputeExecutionHash(task interface{}, policyConfig map[string]interface{}, agentIdentity, agentVersion, toolRegistryIdentity, runtimeVersion string) string {
	h := sha256.New()
	writeHashValue(h, task)
	h.Write([]byte{0})
	writeHashValue(h, policyConfig)
	h.Write([]byte{0})
	h.Write([]byte(agentIdentity))
	h.Write([]byte{0})
	h.Write([]byte(agentVersion))
	h.Write([]byte{0})
	h.Write([]byte(toolRegistryIdentity))
	h.Write([]byte{0})
	h.Write([]byte(runtimeVersion))
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// writeHashValue canonicalizes v the same way tool.writeCanonical does:
// sorted map keys, ordered slices, normalized numeric representation.
// Duplicated locally (rather than exported from package tool) because
// execution hashing and argument hashing are independent concerns that
// happen to share an algorithm, not a shared abstraction worth coupling
// two packages over.
func writeHashValue(w hashWriter, v interface{}) {
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
			writeHashValue(w, val[k])
		}
		w.Write([]byte{'}'})
	case []interface{}:
		w.Write([]byte{'['})
		for i, item := range val {
			if i > 0 {
				w.Write([]byte{','})
			}
			writeHashValue(w, item)
		}
		w.Write([]byte{']'})
	case []string:
		w.Write([]byte{'['})
		for i, item := range val {
			if i > 0 {
				w.Write([]byte{','})
			}
			w.Write([]byte(strconv.Quote(item)))
		}
		w.Write([]byte{']'})
	case string:
		w.Write([]byte(strconv.Quote(val)))
	case bool:
		w.Write([]byte(strconv.FormatBool(val)))
	case float64:
		w.Write([]byte(normalizeHashNumber(val)))
	case int:
		w.Write([]byte(normalizeHashNumber(float64(val))))
	case int64:
		w.Write([]byte(normalizeHashNumber(float64(val))))
	default:
		w.Write([]byte(strconv.Quote(toDisplayString(val))))
	}
}

func normalizeHashNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func toDisplayString(v interface{}) string {
	type stringer interface{ String() string }
	if s, ok := v.(stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%#v", v)
}
