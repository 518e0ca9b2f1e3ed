package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandstring(t *testing.T) {
	s := Randstring(8)
	assert.Len(t, s, 8)
	for _, r := range s {
		assert.True(t, r >= 'a' && r <= 'z')
	}
}

func TestStructMap(t *testing.T) {
	type input struct {
		Name  string
		Vcpus int
	}

	m := StructMap(&input{Name: "memory", Vcpus: 4})
	assert.Equal(t, "memory", m["Name"])
	assert.Equal(t, 4, m["Vcpus"])
}

func TestLastNonEmptyLine(t *testing.T) {
	assert.Equal(t, "last", LastNonEmptyLine([]byte("first\nlast\n\n")))
	assert.Equal(t, "only", LastNonEmptyLine([]byte("only")))
}
