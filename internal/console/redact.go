// SPDX-License-Identifier: MPL-2.0

package console

import (
	"cmp"
	"slices"
	"strings"
)

// Redacted replaces every sensitive string found in output and results.
const Redacted = "[redacted]"

// Redactor masks a fixed set of sensitive strings.
// A nil Redactor leaves input untouched.
type Redactor struct {
	replacer *strings.Replacer
}

// NewRedactor builds a Redactor for the given secrets. Empty strings are
// ignored. Longer secrets are matched first so a secret that contains another
// one is masked as a whole.
func NewRedactor(secrets []string) *Redactor {
	var uniq []string
	for _, s := range secrets {
		if s != "" && !slices.Contains(uniq, s) {
			uniq = append(uniq, s)
		}
	}
	if len(uniq) == 0 {
		return nil
	}
	slices.SortStableFunc(uniq, func(a, b string) int {
		return cmp.Compare(len(b), len(a))
	})

	pairs := make([]string, 0, len(uniq)*2)
	for _, s := range uniq {
		pairs = append(pairs, s, Redacted)
	}
	return &Redactor{replacer: strings.NewReplacer(pairs...)}
}

// Redact masks every secret in s.
func (r *Redactor) Redact(s string) string {
	if r == nil {
		return s
	}
	return r.replacer.Replace(s)
}

// RedactValue walks a decoded JSON value and masks secrets in every string,
// including object keys. The input is not modified.
func (r *Redactor) RedactValue(v any) any {
	if r == nil {
		return v
	}
	switch t := v.(type) {
	case string:
		return r.Redact(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = r.RedactValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[r.Redact(k)] = r.RedactValue(item)
		}
		return out
	default:
		return v
	}
}
