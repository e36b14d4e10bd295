// SPDX-License-Identifier: MPL-2.0

package procexec

import (
	"maps"
	"os"
	"slices"
	"strings"
)

// AllowlistEnv captures the host variables named in allow.
// Names that are not set on the host are skipped. lookup defaults to
// os.LookupEnv.
func AllowlistEnv(allow []string, lookup func(string) (string, bool)) map[string]string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := make(map[string]string, len(allow))
	for _, name := range allow {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if v, ok := lookup(name); ok {
			env[name] = v
		}
	}
	return env
}

// envSlice renders env as sorted KEY=VALUE entries, with overrides applied
// on top of base.
func envSlice(base, overrides map[string]string) []string {
	merged := maps.Clone(base)
	if merged == nil {
		merged = make(map[string]string, len(overrides))
	}
	maps.Copy(merged, overrides)

	out := make([]string, 0, len(merged))
	for _, k := range slices.Sorted(maps.Keys(merged)) {
		out = append(out, k+"="+merged[k])
	}
	return out
}
