package diagnostics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollectorRegistersAgainstProvidedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	require.NotNil(t, c)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewCollectorToleratesNilRegisterer(t *testing.T) {
	assert.NotPanics(t, func() {
		c := NewCollector(nil)
		c.ObserveRequest(5 * time.Millisecond)
		c.ObserveQueueWait(1 * time.Millisecond)
	})
}

func TestGlobalCollectorIsASingleton(t *testing.T) {
	assert.Same(t, Global(), Global())
}
