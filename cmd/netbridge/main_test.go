package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunHelpAndBadArgs(t *testing.T) {
	assert.NoError(t, run([]string{"--help"}))
	assert.Error(t, run([]string{"--no-such-flag"}))
	assert.Error(t, run([]string{"extra"}))
}
