// Package config holds environment helpers shared by the config loader and
// the CLI.
package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"

	"github.com/joho/godotenv"
)

// envRef matches ${VAR} and ${VAR:-default}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} with the variable's value (empty when unset)
// and ${VAR:-default} with the value, or default when unset or empty.
//
//	callback_url: ${CALLBACK_URL:-http://localhost:3000/auth/google/callback}
func ExpandEnv(input string) string {
	return envRef.ReplaceAllStringFunc(input, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		if m[2] != "" {
			return m[3]
		}
		return ""
	})
}

// ExpandEnvBytes is ExpandEnv for file contents.
func ExpandEnvBytes(input []byte) []byte {
	return []byte(ExpandEnv(string(input)))
}

// MissingEnvVars lists variables referenced without a default that are unset
// or empty, in order of first appearance.
func MissingEnvVars(input string) []string {
	seen := make(map[string]bool)
	var missing []string
	for _, m := range envRef.FindAllStringSubmatch(input, -1) {
		name := m[1]
		if seen[name] || m[2] != "" {
			continue
		}
		seen[name] = true
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// LoadDotEnv reads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}
