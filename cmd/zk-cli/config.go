package main

import "gopkg.in/yaml.v3"

// yamlUnmarshal is split into its own tiny indirection so config.go stays
// the only file in this command that imports the YAML package.
func yamlUnmarshal(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}
