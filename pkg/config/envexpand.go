package config

import (
	"bytes"
	"os"
	"text/template"
)

// ExpandEnv expands {{.VAR}} references in data against the process
// environment, the same template syntax the teacher's
// pkg/config/envexpand.go uses for its YAML files. On any parse or
// execution error the original data is returned unchanged so the
// caller's YAML parser produces a clearer error message.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("overlay").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
