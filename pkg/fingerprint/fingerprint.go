// Package fingerprint produces stable 64-bit fingerprints of parameter
// records. Two parameter objects that are equivalent (same fields, any field
// order, numerically equal values) always fingerprint identically; this is
// what makes them usable as cache key components.
package fingerprint

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// Of returns the fingerprint of params as 16 lowercase hex characters.
// params may be a struct, a map, or any JSON-encodable value.
func Of(params interface{}) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", errors.Wrap(err, "fingerprint: encoding parameters")
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", errors.Wrap(err, "fingerprint: decoding parameters")
	}
	d := xxhash.New()
	writeCanonical(d, v)
	return fmt.Sprintf("%016x", d.Sum64()), nil
}

// writeCanonical streams a canonical form of v into d: object keys sorted,
// numbers in shortest-round-trip form so 0.3 and 0.30 agree.
func writeCanonical(d *xxhash.Digest, v interface{}) {
	switch t := v.(type) {
	case nil:
		d.WriteString("z")
	case bool:
		if t {
			d.WriteString("b1")
		} else {
			d.WriteString("b0")
		}
	case float64:
		d.WriteString("n")
		d.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case string:
		d.WriteString("s")
		d.WriteString(strconv.Itoa(len(t)))
		d.WriteString(":")
		d.WriteString(t)
	case []interface{}:
		d.WriteString("a")
		d.WriteString(strconv.Itoa(len(t)))
		for _, e := range t {
			writeCanonical(d, e)
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d.WriteString("o")
		d.WriteString(strconv.Itoa(len(keys)))
		for _, k := range keys {
			d.WriteString("k")
			d.WriteString(strconv.Itoa(len(k)))
			d.WriteString(":")
			d.WriteString(k)
			writeCanonical(d, t[k])
		}
	default:
		// json.Unmarshal into interface{} only produces the types above.
		d.WriteString(fmt.Sprintf("?%v", t))
	}
}
