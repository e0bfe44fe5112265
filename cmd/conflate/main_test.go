package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemed/conflation/pkg/osmapi"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		debug bool
		env   string
		want  slog.Level
	}{
		{false, "", slog.LevelInfo},
		{false, "warn", slog.LevelWarn},
		{false, "ERROR", slog.LevelError},
		{false, "loud", slog.LevelInfo},
		{true, "error", slog.LevelDebug},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, logLevel(tt.debug, tt.env), "debug=%v env=%q", tt.debug, tt.env)
	}
}

func TestAPIBaseURL(t *testing.T) {
	assert.Equal(t, osmapi.DefaultBaseURL, apiBaseURL("", "", false))
	assert.Equal(t, osmapi.DevBaseURL, apiBaseURL("", "https://osm.internal", true))
	assert.Equal(t, "https://osm.internal", apiBaseURL("", "https://osm.internal", false))
	assert.Equal(t, "http://localhost:3000", apiBaseURL("http://localhost:3000", "https://osm.internal", true))
}

func TestNewReader(t *testing.T) {
	client := osmapi.New(osmapi.Config{})

	r, err := newReader("api", client, "", nil)
	require.NoError(t, err)
	assert.Same(t, client, r)

	r, err = newReader("overpass", client, "", nil)
	require.NoError(t, err)
	assert.IsType(t, &osmapi.Overpass{}, r)

	_, err = newReader("pbf", client, "", nil)
	assert.Error(t, err)
}
