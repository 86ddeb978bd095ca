package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssignments(t *testing.T) {
	vars, err := ParseAssignments([]string{"name=Ada", "expr=a=b", " spaced =x", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"name":   "Ada",
		"expr":   "a=b",
		"spaced": "x",
		"empty":  "",
	}, vars)

	_, err = ParseAssignments([]string{"novalue"})
	require.Error(t, err)
	_, err = ParseAssignments([]string{"=value"})
	require.Error(t, err)
}

func TestParseKV(t *testing.T) {
	m := ParseKV("title: Groceries\n\nbroken line\nurl: http://example.com\n")
	assert.Equal(t, map[string]string{
		"title": "Groceries",
		"url":   "http://example.com",
	}, m)
}
