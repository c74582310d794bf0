package config

import "os"

// ExpandEnv expands ${VAR} and $VAR references in YAML content before it is
// parsed, using the standard library's shell-style expansion. Missing
// variables expand to the empty string; validation catches required fields
// that end up empty.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
