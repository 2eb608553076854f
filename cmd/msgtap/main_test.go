package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/msgtap/intercept"
	"github.com/chazu/msgtap/journal"
	"github.com/chazu/msgtap/manifest"
	"github.com/chazu/msgtap/vm"
)

// recordSession writes a journal with two ping: events under dir and
// returns the id of their stream.
func recordSession(t *testing.T, dir string) string {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.FileName),
		[]byte("[journal]\npath = \"events.db\"\narguments = true\n"), 0644))
	cfg, err := manifest.Load(dir)
	require.NoError(t, err)

	j, err := journal.OpenConfig(cfg)
	require.NoError(t, err)
	defer j.Close()

	rt := vm.NewRuntime()
	class := rt.DefineClass("Pinger", nil)
	class.Define("ping:", "v@:i", func(*vm.Invocation) {})
	obj := class.NewInstance()

	sig := intercept.New(cfg.EngineOptions()).ArgumentStream(obj, rt.Intern("ping:"))
	_, err = j.Attach(sig)
	require.NoError(t, err)

	obj.Send("ping:", 1)
	obj.Send("ping:", 2)
	obj.Dispose()
	require.NoError(t, j.Err())
	return sig.ID().String()
}

func TestRunEvents(t *testing.T) {
	dir := t.TempDir()
	recordSession(t, dir)

	var out bytes.Buffer
	require.NoError(t, run(&out, dir, "", false, []string{"events", "ping:"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "1\tPinger#ping:\t"), lines[0])
	assert.Contains(t, lines[0], "(1)")
	assert.Contains(t, lines[1], "(2)")
}

func TestRunStream(t *testing.T) {
	dir := t.TempDir()
	id := recordSession(t, dir)

	var out bytes.Buffer
	require.NoError(t, run(&out, dir, "", false, []string{"stream", id}))
	assert.Equal(t, id+" completed\n", out.String())
}

func TestRunJournalOverride(t *testing.T) {
	dir := t.TempDir()
	recordSession(t, dir)

	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, manifest.FileName), []byte("[log]\nverbosity = 0\n"), 0644))

	var out bytes.Buffer
	err := run(&out, other, "", false, []string{"events", "ping:"})
	assert.ErrorContains(t, err, "no journal configured")

	require.NoError(t, run(&out, other, filepath.Join(dir, "events.db"), true, []string{"events", "ping:"}))
	assert.Contains(t, out.String(), "2 events")
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	recordSession(t, dir)

	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"unknown command", []string{"replay", "ping:"}, "unknown command"},
		{"bad stream id", []string{"stream", "nope"}, "invalid stream id"},
		{"missing argument", []string{"events"}, "expected a command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(&out, dir, "", false, tt.args)
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestRunMissingJournalFile(t *testing.T) {
	var out bytes.Buffer
	err := run(&out, t.TempDir(), filepath.Join(t.TempDir(), "absent.db"), false, []string{"events", "ping:"})
	assert.ErrorContains(t, err, "cannot open journal")
}
