package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd(t *testing.T) {
	root := newRootCmd()

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "serve", serve.Name())

	ingest, _, err := root.Find([]string{"ingest"})
	require.NoError(t, err)
	assert.Error(t, ingest.Args(ingest, nil))
	assert.NoError(t, ingest.Args(ingest, []string{"a.pdf"}))
}

func TestRateLimit(t *testing.T) {
	assert.Zero(t, rateLimit(false, 120))
	assert.Equal(t, 120, rateLimit(true, 120))
}
