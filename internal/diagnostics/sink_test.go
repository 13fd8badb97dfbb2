package diagnostics

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkEmitWritesNDJSONLine(t *testing.T) {
	root := t.TempDir()
	sink, err := NewSink(root)
	require.NoError(t, err)
	defer sink.Close()

	sink.Emit(EventDispatch, map[string]any{"kind": "session.new"})
	require.NoError(t, sink.Close())

	f, err := os.Open(filepath.Join(root, "diagnostics.ndjson"))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())

	var ev Event
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
	assert.Equal(t, EventDispatch, ev.Kind)
	assert.Equal(t, "session.new", ev.Fields["kind"])
}

func TestSinkEmitRedactsSensitiveFields(t *testing.T) {
	root := t.TempDir()
	sink, err := NewSink(root)
	require.NoError(t, err)
	defer sink.Close()

	sink.Emit(EventDispatch, map[string]any{"token": "secret-value", "kind": "session.new"})
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(filepath.Join(root, "diagnostics.ndjson"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-value")
}

func TestSinkEmitOnNilSinkIsNoop(t *testing.T) {
	var sink *Sink
	assert.NotPanics(t, func() {
		sink.Emit(EventDispatch, map[string]any{"kind": "x"})
	})
}

func TestSinkAttachHubBroadcastsEmittedLines(t *testing.T) {
	root := t.TempDir()
	sink, err := NewSink(root)
	require.NoError(t, err)
	defer sink.Close()

	hub := NewHub()
	recv := make(chan []byte, 1)
	hub.mu.Lock()
	hub.clients[nil] = recv
	hub.mu.Unlock()

	sink.AttachHub(hub)
	sink.Emit(EventQueueReject, map[string]any{"reason": "lane_full"})

	select {
	case line := <-recv:
		var ev Event
		require.NoError(t, json.Unmarshal(line, &ev))
		assert.Equal(t, EventQueueReject, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("hub never received broadcast line")
	}
}
