package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/affilink/pkg/bus"
	"github.com/odvcencio/affilink/pkg/config"
	"github.com/odvcencio/affilink/pkg/stream"
)

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-version"}, &out))
	assert.Contains(t, out.String(), "affilink "+version)
}

func TestRunHelp(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-h"}, &out))
	assert.Contains(t, out.String(), "-config")
}

func TestRunBadFlag(t *testing.T) {
	err := run([]string{"-nope"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCodeForError(err))
}

func TestRunMissingConfig(t *testing.T) {
	err := run([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCodeForError(err))
}

func TestRunInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stream:\n  transport: carrier-pigeon\n"), 0o644))

	err := run([]string{"-config", path}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid stream transport")
	assert.Equal(t, exitConfig, exitCodeForError(err))
}

func TestExitCodeForError(t *testing.T) {
	assert.Equal(t, 0, exitCodeForError(nil))
	assert.Equal(t, exitFailure, exitCodeForError(errors.New("boom")))
	assert.Equal(t, exitConfig, exitCodeForError(withExitCode(errors.New("bad"), exitConfig)))
	assert.Equal(t, exitFailure, exitCodeForError(exitError{err: errors.New("zero")}))
	assert.Nil(t, withExitCode(nil, exitConfig))

	wrapped := withExitCode(os.ErrNotExist, exitConfig)
	assert.ErrorIs(t, wrapped, os.ErrNotExist)
}

func TestNewTransport(t *testing.T) {
	b := bus.NewMemoryBus()
	t.Cleanup(func() { b.Close() })

	tr, err := newTransport(config.StreamConfig{Transport: "SSE", URL: "http://h/s"}, b)
	require.NoError(t, err)
	assert.IsType(t, &stream.SSETransport{}, tr)

	tr, err = newTransport(config.StreamConfig{Transport: config.TransportWebSocket, URL: "ws://h/s"}, b)
	require.NoError(t, err)
	assert.IsType(t, &stream.WebSocketTransport{}, tr)

	tr, err = newTransport(config.StreamConfig{Transport: config.TransportNATS, Subject: "affilink.commands"}, b)
	require.NoError(t, err)
	bt, ok := tr.(*stream.BusTransport)
	require.True(t, ok)
	assert.Equal(t, "affilink.commands", bt.Subject)

	_, err = newTransport(config.StreamConfig{Transport: config.TransportNATS}, nil)
	assert.Error(t, err)
	_, err = newTransport(config.StreamConfig{Transport: "smoke"}, b)
	assert.Error(t, err)
}

func TestNewBusMemory(t *testing.T) {
	b, err := newBus(config.BusConfig{Backend: config.BusMemory})
	require.NoError(t, err)
	assert.IsType(t, &bus.MemoryBus{}, b)
	assert.NoError(t, b.Close())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, "", expandHome("  "))
	assert.Equal(t, "/var/lib/affilink.db", expandHome("/var/lib/affilink.db"))
	assert.Equal(t, filepath.Join(home, ".affilink", "ledger.db"), expandHome("~/.affilink/ledger.db"))
}
