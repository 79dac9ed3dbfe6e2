package main

import (
	"testing"

	"campaign-tracker/config"
	"campaign-tracker/store"

	"github.com/stretchr/testify/assert"
)

func TestClaimsAreShared(t *testing.T) {
	grid, _ := store.NewMemoryStore(map[string][][]string{})
	cfg := &config.Config{}

	assert.False(t, claimsAreShared(grid, cfg))

	cfg.Redis.Enabled = true
	assert.True(t, claimsAreShared(grid, cfg))

	cfg.Redis.Enabled = false
	assert.True(t, claimsAreShared(&store.PostgresStore{}, cfg))
}
