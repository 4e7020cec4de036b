package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFSRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file")

	f, err := Default.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Sync())

	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
	require.NoError(t, f.Close())

	fi, err := Default.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), fi.Size())

	renamed := filepath.Join(dir, "renamed")
	require.NoError(t, Default.Rename(path, renamed))
	require.NoError(t, Default.Remove(renamed))
	_, err = Default.Stat(renamed)
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFSFailAfterBytes(t *testing.T) {
	faulty := NewFaultyFS(nil)
	faulty.AddRule("log", Fault{FailAfterBytes: 10})

	path := filepath.Join(t.TempDir(), "logfile")
	f, err := faulty.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	_, err = f.WriteAt(make([]byte, 10), 0)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("x"), 10)
	require.Error(t, err)
}

func TestFaultyFSFailOnSync(t *testing.T) {
	faulty := NewFaultyFS(nil)
	faulty.AddRule("logfile", Fault{FailAfterBytes: -1, FailOnSync: true})

	f, err := faulty.OpenFile(filepath.Join(t.TempDir(), "logfile"), os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	_, err = f.WriteAt([]byte("data"), 0)
	require.NoError(t, err)
	assert.Error(t, f.Sync())
}

func TestFaultyFSUnmatchedFilesPass(t *testing.T) {
	faulty := NewFaultyFS(nil)
	faulty.AddRule("nomatch", Fault{FailAfterBytes: 0})

	f, err := faulty.OpenFile(filepath.Join(t.TempDir(), "other"), os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	_, err = f.WriteAt([]byte("fine"), 0)
	assert.NoError(t, err)
	assert.NoError(t, f.Sync())
}
