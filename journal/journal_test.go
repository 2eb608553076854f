package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/msgtap/intercept"
	"github.com/chazu/msgtap/manifest"
	"github.com/chazu/msgtap/vm"
)

type counter struct {
	rt    *vm.Runtime
	class *vm.Class
	add   vm.Selector
	reset vm.Selector
}

func newCounter(t *testing.T) *counter {
	t.Helper()

	c := &counter{rt: vm.NewRuntime()}
	c.class = c.rt.DefineClass("Counter", nil, "n")
	c.class.Define("add:label:", "v@:q@", func(inv *vm.Invocation) {
		self := inv.Target()
		self.SetSlot(0, vm.FromInt64(self.GetSlot(0).Int64()+inv.Int(2)))
	})
	c.class.Define("reset", "v@:", func(inv *vm.Invocation) {
		inv.Target().SetSlot(0, vm.FromInt64(0))
	})
	c.add = c.rt.Intern("add:label:")
	c.reset = c.rt.Intern("reset")
	return c
}

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal", "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordsEvents(t *testing.T) {
	j := openTemp(t)
	c := newCounter(t)
	obj := c.class.NewInstance()
	label := c.class.NewInstance()

	_, err := j.Watch(intercept.New(intercept.DefaultOptions()), obj, c.add)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		obj.Send("add:label:", i, label)
	}

	records, err := j.Events("add:label:")
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, uint64(i+1), r.Seq)
		assert.Equal(t, "Counter", r.Class)
		assert.Equal(t, "add:label:", r.Selector)
		assert.Equal(t, obj.ID(), r.ObjectID)
		require.Len(t, r.Args, 2)
		assert.Equal(t, int64(i+1), r.Args[0].Interface())
		assert.Equal(t, WireObject, r.Args[1].Kind)
		assert.Equal(t, label.ID(), r.Args[1].Interface())
	}
	assert.NoError(t, j.Err())

	none, err := j.Events("reset")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestJournal_TriggerOnlyFromConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.FileName),
		[]byte("[journal]\npath = \"events.db\"\narguments = false\n"), 0644))
	cfg, err := manifest.Load(dir)
	require.NoError(t, err)

	j, err := OpenConfig(cfg)
	require.NoError(t, err)
	require.NotNil(t, j)
	defer j.Close()

	c := newCounter(t)
	obj := c.class.NewInstance()
	_, err = j.Watch(cfg.NewEngine(), obj, c.add)
	require.NoError(t, err)
	obj.Send("add:label:", 5, nil)

	records, err := j.Events("add:label:")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Args)
	assert.FileExists(t, filepath.Join(dir, "events.db"))
}

func TestJournal_ArgumentsByDefaultFromConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.FileName),
		[]byte("[journal]\npath = \"events.db\"\n"), 0644))
	cfg, err := manifest.Load(dir)
	require.NoError(t, err)

	j, err := OpenConfig(cfg)
	require.NoError(t, err)
	require.NotNil(t, j)
	defer j.Close()

	c := newCounter(t)
	obj := c.class.NewInstance()
	_, err = j.Watch(cfg.NewEngine(), obj, c.add)
	require.NoError(t, err)
	obj.Send("add:label:", 5, nil)

	records, err := j.Events("add:label:")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, records[0].Args, 2)
	assert.Equal(t, int64(5), records[0].Args[0].Interface())
}

func TestJournal_OpenConfigDisabled(t *testing.T) {
	j, err := OpenConfig(manifest.Default())
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestJournal_ZeroArgumentsStayEmpty(t *testing.T) {
	j := openTemp(t)
	c := newCounter(t)
	obj := c.class.NewInstance()

	_, err := j.Watch(intercept.New(intercept.DefaultOptions()), obj, c.reset)
	require.NoError(t, err)
	obj.Send("reset")

	records, err := j.Events("reset")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotNil(t, records[0].Args)
	assert.Empty(t, records[0].Args)
}

func TestJournal_CompletionIsRecorded(t *testing.T) {
	j := openTemp(t)
	c := newCounter(t)
	obj := c.class.NewInstance()

	sig := intercept.New(intercept.DefaultOptions()).TriggerStream(obj, c.reset)
	_, err := j.Attach(sig)
	require.NoError(t, err)

	done, err := j.Completed(sig.ID())
	require.NoError(t, err)
	assert.False(t, done)

	obj.Dispose()

	done, err = j.Completed(sig.ID())
	require.NoError(t, err)
	assert.True(t, done)
}

func TestJournal_AttachCompletedSignal(t *testing.T) {
	j := openTemp(t)
	c := newCounter(t)
	obj := c.class.NewInstance()
	sig := intercept.New(intercept.DefaultOptions()).TriggerStream(obj, c.reset)
	obj.Dispose()

	_, err := j.Attach(sig)
	require.NoError(t, err)

	done, err := j.Completed(sig.ID())
	require.NoError(t, err)
	assert.True(t, done)
}

func TestJournal_DisposeStopsRecording(t *testing.T) {
	j := openTemp(t)
	c := newCounter(t)
	obj := c.class.NewInstance()

	d, err := j.Watch(intercept.New(intercept.DefaultOptions()), obj, c.reset)
	require.NoError(t, err)
	obj.Send("reset")
	d.Dispose()
	d.Dispose()
	obj.Send("reset")

	records, err := j.Events("reset")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestJournal_AttachTwice(t *testing.T) {
	j := openTemp(t)
	c := newCounter(t)
	sig := intercept.New(intercept.DefaultOptions()).TriggerStream(c.class.NewInstance(), c.reset)

	_, err := j.Attach(sig)
	require.NoError(t, err)
	_, err = j.Attach(sig)
	assert.ErrorContains(t, err, "already attached")
}

func TestJournal_Closed(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	c := newCounter(t)
	sig := intercept.New(intercept.DefaultOptions()).TriggerStream(c.class.NewInstance(), c.reset)
	_, err = j.Attach(sig)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestJournal_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	j, err := Open(path)
	require.NoError(t, err)

	c := newCounter(t)
	obj := c.class.NewInstance()
	_, err = j.Watch(intercept.New(intercept.DefaultOptions()), obj, c.add)
	require.NoError(t, err)
	obj.Send("add:label:", 7, nil)
	require.NoError(t, j.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()

	records, err := again.Events("add:label:")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(7), records[0].Args[0].Interface())
	assert.Equal(t, WireNil, records[0].Args[1].Kind)
}
