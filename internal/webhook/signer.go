package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON serializes a payload with object keys sorted at every
// level so signatures are deterministic across processes.
func CanonicalJSON(payload any) ([]byte, error) {
	// Round-trip through generic values to drop struct field ordering.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("webhook: marshal payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("webhook: normalize payload: %w", err)
	}
	return marshalCanonical(generic)
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			out = append(out, key...)
			out = append(out, ':')
			child, err := marshalCanonical(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, child...)
		}
		return append(out, '}'), nil
	case []any:
		out := []byte{'['}
		for i, item := range val {
			if i > 0 {
				out = append(out, ',')
			}
			child, err := marshalCanonical(item)
			if err != nil {
				return nil, err
			}
			out = append(out, child...)
		}
		return append(out, ']'), nil
	default:
		return json.Marshal(v)
	}
}

// Sign computes the HMAC-SHA256 signature over the canonical body using
// the per-form secret, in the "sha256=<hex>" header format.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
