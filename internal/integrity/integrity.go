// Package integrity computes deterministic digests over events, accesses
// and attachments so that an external log reader (or the audit subsystem)
// can cryptographically match a write with its audit line.
//
// HASHING:
//
// Integrity digests use SHA-256 over a canonical JSON encoding of the
// resource (sorted map keys, server-assigned fields included, raw bytes for
// attachments). This is a faster, non-adaptive hash by design — integrity
// values are a tamper-evidence aid for audit correlation, not a credential;
// see internal/auth/tokenhash.go for the bcrypt/SHA-256 split used for
// actual secrets, which this package does not touch.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"sort"
)

// Prefix identifies the digest algorithm, mirroring the convention used for
// Subresource Integrity strings ("sha256-<base16>").
const Prefix = "sha256"

// OfValue returns the integrity digest of an arbitrary JSON-serializable
// value using a canonical (sorted-key) encoding.
func OfValue(v interface{}) (string, error) {
	canonical, err := canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return Prefix + "-" + hex.EncodeToString(sum[:]), nil
}

// OfReader returns the integrity digest of a stream of bytes (used for
// attachments, hashed as they stream through on upload).
func OfReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return Prefix + "-" + hex.EncodeToString(h.Sum(nil)), n, nil
}

// canonicalize marshals v to JSON with map keys sorted, so that two
// semantically identical values always hash the same way regardless of
// field insertion order.
func canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

func marshalSorted(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte("{")
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, _ := json.Marshal(k)
			out = append(out, kb...)
			out = append(out, ':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		out = append(out, '}')
		return out, nil
	case []interface{}:
		out := []byte("[")
		for i, item := range val {
			if i > 0 {
				out = append(out, ',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			out = append(out, ib...)
		}
		out = append(out, ']')
		return out, nil
	default:
		return json.Marshal(val)
	}
}
