package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML overlay content using Go
// template syntax ({{.VAR_NAME}}). Template syntax is used instead of $VAR
// so that literal dollar signs in endpoint URLs, bearer tokens, and header
// values pass through untouched.
//
// Examples:
//   - {{.SCHEDULER_API_TOKEN}} → value of SCHEDULER_API_TOKEN
//   - {{.STORE_HOST}}:{{.STORE_PORT}} → hostname:port with both expanded
//
// Missing variables expand to the empty string; validation catches required
// fields that end up empty. Malformed templates return the input unchanged
// so overlays without template syntax always pass through.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("overlay").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		// Split on the first = only; values may contain = themselves.
		if idx := strings.IndexByte(env, '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}

	return buf.Bytes()
}
