package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteJSONAtomic_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")

	want := sample{Name: "alpha", Count: 3}
	require.NoError(t, WriteJSONAtomic(path, want))

	var got sample
	ok, err := ReadJSON(path, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestWriteJSONAtomic_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")

	require.NoError(t, WriteJSONAtomic(path, sample{Name: "a"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "sample.json", entries[0].Name())
}

func TestReadJSON_MissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	var got sample
	ok, err := ReadJSON(filepath.Join(dir, "missing.json"), &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteJSONAtomic_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")

	require.NoError(t, WriteJSONAtomic(path, sample{Name: "first", Count: 1}))
	require.NoError(t, WriteJSONAtomic(path, sample{Name: "second", Count: 2}))

	var got sample
	ok, err := ReadJSON(path, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sample{Name: "second", Count: 2}, got)
}
