package helpers

import (
	"strings"

	"github.com/pkg/errors"
)

// ParseAssignments turns key=value pairs into template variables. Values
// keep everything after the first '='.
func ParseAssignments(pairs []string) (map[string]interface{}, error) {
	ret := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Errorf("invalid assignment %q, expected key=value", pair)
		}
		ret[key] = value
	}
	return ret, nil
}

// ParseKV reads lines of "key: value". Empty and malformed lines are skipped.
func ParseKV(s string) map[string]string {
	m := make(map[string]string)

	for _, line := range strings.Split(s, "\n") {
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		m[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return m
}
