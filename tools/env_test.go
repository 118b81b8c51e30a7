package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvList(t *testing.T) {
	t.Setenv("PPOST_TEST_LIST", " a, ,b ,")
	assert.Equal(t, []string{"a", "b"}, GetEnvList("PPOST_TEST_LIST", nil))

	t.Setenv("PPOST_TEST_LIST", " , ")
	assert.Equal(t, []string{"x"}, GetEnvList("PPOST_TEST_LIST", []string{"x"}))
	assert.Equal(t, "d", GetEnv("PPOST_TEST_UNSET", "d"))
}
