package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv_Basic(t *testing.T) {
	t.Setenv("KENNEL_TEST_VALUE", "hello")

	result := ExpandEnv([]byte("value: {{.KENNEL_TEST_VALUE}}"))
	assert.Equal(t, "value: hello", string(result))
}

func TestExpandEnv_MissingVariableExpandsEmpty(t *testing.T) {
	result := ExpandEnv([]byte("value: '{{.KENNEL_DEFINITELY_UNSET_VAR}}'"))
	assert.Equal(t, "value: ''", string(result))
}

func TestExpandEnv_DollarSignsPreserved(t *testing.T) {
	// Literal $ must survive: cron specs, passwords, shell fragments.
	input := []byte("pattern: ^secret.*$\npassword: p@ss$word")
	assert.Equal(t, input, ExpandEnv(input))
}

func TestExpandEnv_MalformedTemplatePassesThrough(t *testing.T) {
	input := []byte("value: {{.UNCLOSED")
	assert.Equal(t, input, ExpandEnv(input))
}

func TestExpandEnv_MultipleVariables(t *testing.T) {
	t.Setenv("KENNEL_TEST_HOST", "peer-a")
	t.Setenv("KENNEL_TEST_PORT", "3000")

	result := ExpandEnv([]byte("peer: http://{{.KENNEL_TEST_HOST}}:{{.KENNEL_TEST_PORT}}"))
	assert.Equal(t, "peer: http://peer-a:3000", string(result))
}
