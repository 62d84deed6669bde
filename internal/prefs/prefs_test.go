package prefs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.Equal(t, Default(), p)
}

func TestLoadPartialAndClamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"toleranceDeg": 40, "headingIntervalMs": 5}`), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, MaxToleranceDeg, p.ToleranceDeg)
	require.Equal(t, MinIntervalMs, p.HeadingIntervalMs)
	require.True(t, p.HapticsEnabled)
	require.False(t, p.ReduceMotionEnabled)
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"toleranceDeg":`), 0o644))

	p, err := Load(path)
	require.Error(t, err)
	require.Equal(t, Default(), p)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	want := Preferences{ToleranceDeg: 3, HeadingIntervalMs: 120, ReduceMotionEnabled: true}
	require.NoError(t, Save(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestWatcherWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, Save(path, Default()))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, Save(path, Preferences{ToleranceDeg: 8, HeadingIntervalMs: 100}))

	select {
	case <-w.Watch():
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}

	p, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8.0, p.ToleranceDeg)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prefs.json")

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644))

	select {
	case <-w.Watch():
		t.Fatal("unexpected signal")
	case <-time.After(100 * time.Millisecond):
	}
}
