package mcp

import (
	"encoding/json"
	"log/slog"
)

const (
	// MaxResponseBytes is the contract ceiling on a serialized result. A
	// result at exactly this size passes verbatim; one byte over triggers
	// truncation.
	MaxResponseBytes = 100 * 1024

	// maxStringBytes is the per-field cap applied to oversized results.
	maxStringBytes = 2048

	truncationNotice = " [TRUNCATED - response too large]"
)

// enforceResponseSize caps the serialized result. Oversized results get a
// structure-preserving rewrite: long strings are cut to maxStringBytes plus
// a notice suffix, and each object containing a cut value gains a
// "_truncated": true marker. Envelope keys are never dropped.
func enforceResponseSize(resp *Response, logger *slog.Logger) *Response {
	if resp == nil || resp.Result == nil {
		return resp
	}

	serialized, err := json.Marshal(resp.Result)
	if err != nil || len(serialized) <= MaxResponseBytes {
		return resp
	}

	var decoded any
	if err := json.Unmarshal(serialized, &decoded); err != nil {
		return resp
	}

	truncated, _ := truncateValue(decoded)
	if logger != nil {
		logger.Warn("truncated oversized response",
			"original_bytes", len(serialized), "limit", MaxResponseBytes)
	}
	resp.Result = truncated
	return resp
}

// truncateValue rewrites v depth-first. The boolean reports whether a cut
// happened at or below v and has not yet been claimed by a containing
// object; maps claim the flag by setting their own "_truncated" marker,
// arrays pass it through to their container.
func truncateValue(v any) (any, bool) {
	switch t := v.(type) {
	case string:
		if len(t) > maxStringBytes {
			return t[:maxStringBytes] + truncationNotice, true
		}
		return t, false

	case map[string]any:
		cut := false
		for k, val := range t {
			nv, c := truncateValue(val)
			t[k] = nv
			cut = cut || c
		}
		if cut {
			t["_truncated"] = true
		}
		return t, false

	case []any:
		cut := false
		for i, val := range t {
			nv, c := truncateValue(val)
			t[i] = nv
			cut = cut || c
		}
		return t, cut

	default:
		return v, false
	}
}
