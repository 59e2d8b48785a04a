package collect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwf/bagger/pkg/entry"
)

func makeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
}

func collectPaths(t *testing.T, inputs []string, opts Options) []string {
	t.Helper()
	var got []string
	err := Walk(inputs, opts, func(it Item) error {
		got = append(got, it.Entry.Path)
		return nil
	})
	require.NoError(t, err)
	return got
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestWalkOrdering(t *testing.T) {
	dir := t.TempDir()
	makeTree(t, dir, map[string]string{
		"top/z.txt":     "z",
		"top/a.txt":     "a",
		"top/sub/x.txt": "x",
	})
	chdir(t, dir)

	got := collectPaths(t, []string{"top"}, Options{})
	assert.Equal(t, []string{
		"top",
		"top/a.txt",
		"top/sub",
		"top/sub/x.txt",
		"top/z.txt",
	}, got)
}

func TestWalkFileInput(t *testing.T) {
	dir := t.TempDir()
	makeTree(t, dir, map[string]string{"dir/b.txt": ""})
	chdir(t, dir)

	got := collectPaths(t, []string{"dir/b.txt"}, Options{})
	assert.Equal(t, []string{"dir/b.txt"}, got)
}

func TestWalkAbsoluteInputUsesBaseName(t *testing.T) {
	dir := t.TempDir()
	makeTree(t, dir, map[string]string{"a.txt": "hi"})

	got := collectPaths(t,
		[]string{filepath.Join(dir, "a.txt")}, Options{})
	assert.Equal(t, []string{"a.txt"}, got)
}

func TestWalkExcludes(t *testing.T) {
	dir := t.TempDir()
	makeTree(t, dir, map[string]string{
		"top/keep.go":           "k",
		"top/skip.pyc":          "s",
		"top/node_modules/a.js": "m",
	})
	chdir(t, dir)

	got := collectPaths(t, []string{"top"}, Options{
		Excludes: []string{"*.pyc", "node_modules"},
	})
	assert.Equal(t, []string{"top", "top/keep.go"}, got)
}

func TestWalkSymlinkNotFollowed(t *testing.T) {
	dir := t.TempDir()
	makeTree(t, dir, map[string]string{"top/real/a.txt": "a"})
	require.NoError(t, os.Symlink("real", filepath.Join(dir, "top", "ln")))
	chdir(t, dir)

	var links []entry.Entry
	err := Walk([]string{"top"}, Options{}, func(it Item) error {
		if it.Entry.Kind == entry.Symlink {
			links = append(links, it.Entry)
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "top/ln", links[0].Path)
	assert.Equal(t, "real", links[0].LinkTarget)
}

func TestWalkCycleDetected(t *testing.T) {
	dir := t.TempDir()
	makeTree(t, dir, map[string]string{"top/a.txt": "a"})
	require.NoError(t, os.Symlink("top", filepath.Join(dir, "again")))
	chdir(t, dir)

	// Two inputs naming the same real directory trip the visited set.
	err := Walk([]string{"top", "again"}, Options{}, func(Item) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrCycle)
}

func TestWalkDuplicatePath(t *testing.T) {
	dir := t.TempDir()
	makeTree(t, dir, map[string]string{"a.txt": "hi"})
	chdir(t, dir)

	err := Walk([]string{"a.txt", "./a.txt"}, Options{}, func(Item) error {
		return nil
	})
	assert.ErrorContains(t, err, "duplicate")
}

func TestWalkMissingInputAborts(t *testing.T) {
	err := Walk([]string{"no/such/path"}, Options{}, func(Item) error {
		return nil
	})
	assert.Error(t, err)
	assert.ErrorContains(t, err, "no/such/path")
}

func TestWalkSkipUnreadable(t *testing.T) {
	dir := t.TempDir()
	makeTree(t, dir, map[string]string{"a.txt": "hi"})
	chdir(t, dir)

	got := collectPaths(t, []string{"gone.txt", "a.txt"}, Options{
		SkipUnreadable: true,
	})
	assert.Equal(t, []string{"a.txt"}, got)
}
