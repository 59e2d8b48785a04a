package archive

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwf/bagger/pkg/codec"
	"github.com/kwf/bagger/pkg/entry"
	"github.com/kwf/bagger/pkg/paths"
)

func makeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"bag", "tar", ""} {
		_, err := Lookup(name)
		assert.NoError(t, err, "format %q", name)
	}
	_, err := Lookup("zip")
	assert.Error(t, err)
	assert.Equal(t, []string{"bag", "tar"}, Formats())
}

func TestRoundTripBothFormats(t *testing.T) {
	for _, format := range Formats() {
		t.Run(format, func(t *testing.T) {
			src := t.TempDir()
			makeTree(t, src, map[string]string{
				"top/a.txt":     "hello",
				"top/sub/b.txt": "",
			})
			require.NoError(t, os.Symlink(
				"a.txt", filepath.Join(src, "top", "ln"),
			))
			modTime := time.Unix(1700000000, 0)
			require.NoError(t, os.Chtimes(
				filepath.Join(src, "top", "a.txt"), modTime, modTime,
			))
			require.NoError(t, os.Chmod(
				filepath.Join(src, "top", "sub", "b.txt"), 0600,
			))
			chdir(t, src)

			var buf bytes.Buffer
			packed, err := Pack(
				[]string{"top"}, &buf, PackOptions{Format: format},
			)
			require.NoError(t, err)
			assert.Equal(t, 5, packed)

			dest := t.TempDir()
			restored, err := Unpack(&buf, dest, format)
			require.NoError(t, err)
			assert.Equal(t, packed, restored)

			data, err := os.ReadFile(filepath.Join(dest, "top", "a.txt"))
			require.NoError(t, err)
			assert.Equal(t, "hello", string(data))

			fi, err := os.Stat(filepath.Join(dest, "top", "a.txt"))
			require.NoError(t, err)
			assert.Equal(t, modTime.Unix(), fi.ModTime().Unix())

			fi, err = os.Stat(filepath.Join(dest, "top", "sub", "b.txt"))
			require.NoError(t, err)
			assert.Zero(t, fi.Size())
			assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())

			target, err := os.Readlink(filepath.Join(dest, "top", "ln"))
			require.NoError(t, err)
			assert.Equal(t, "a.txt", target)
		})
	}
}

func TestScenarioMixedInputs(t *testing.T) {
	src := t.TempDir()
	makeTree(t, src, map[string]string{
		"a.txt":     "hi",
		"dir/b.txt": "",
	})
	chdir(t, src)

	var buf bytes.Buffer
	_, err := Pack([]string{"a.txt", "dir/b.txt"}, &buf, PackOptions{})
	require.NoError(t, err)

	dest := t.TempDir()
	_, err = Unpack(&buf, dest, "")
	require.NoError(t, err)

	fi, err := os.Stat(filepath.Join(dest, "dir"))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	fi, err = os.Stat(filepath.Join(dest, "dir", "b.txt"))
	require.NoError(t, err)
	assert.Zero(t, fi.Size())

	data, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestPackUnknownFormatFailsFast(t *testing.T) {
	_, err := Pack([]string{"x"}, &failWriter{t}, PackOptions{Format: "zip"})
	assert.Error(t, err)

	_, err = Unpack(&failReader{t}, t.TempDir(), "zip")
	assert.Error(t, err)
}

type failWriter struct{ t *testing.T }

func (w *failWriter) Write([]byte) (int, error) {
	w.t.Fatal("write before format check")
	return 0, nil
}

type failReader struct{ t *testing.T }

func (r *failReader) Read([]byte) (int, error) {
	r.t.Fatal("read before format check")
	return 0, nil
}

func TestPackNoInputs(t *testing.T) {
	var buf bytes.Buffer
	_, err := Pack(nil, &buf, PackOptions{})
	assert.Error(t, err)
}

func TestPackAbortsOnMissingInput(t *testing.T) {
	var buf bytes.Buffer
	_, err := Pack([]string{"no/such/file"}, &buf, PackOptions{})
	assert.Error(t, err)
}

func TestPackSkipUnreadable(t *testing.T) {
	src := t.TempDir()
	makeTree(t, src, map[string]string{"a.txt": "hi"})
	chdir(t, src)

	var buf bytes.Buffer
	n, err := Pack(
		[]string{"gone.txt", "a.txt"}, &buf,
		PackOptions{SkipUnreadable: true},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnpackTruncatedArchive(t *testing.T) {
	src := t.TempDir()
	makeTree(t, src, map[string]string{"a.txt": "0123456789"})
	chdir(t, src)

	var buf bytes.Buffer
	_, err := Pack([]string{"a.txt"}, &buf, PackOptions{})
	require.NoError(t, err)

	dest := t.TempDir()
	truncated := buf.Bytes()[:buf.Len()-6]
	_, err = Unpack(bytes.NewReader(truncated), dest, "")
	assert.ErrorIs(t, err, codec.ErrFormat)
}

func TestUnpackHostileArchive(t *testing.T) {
	// A hand-built bag archive holding "../outside.txt".
	raw := []byte{0x89, 'B', 'A', 'G', 1}
	p := "../outside.txt"
	raw = append(raw, binary.AppendUvarint(nil, uint64(len(p)))...)
	raw = append(raw, p...)
	raw = append(raw, 0) // regular file
	raw = append(raw, binary.AppendUvarint(nil, 0644)...)
	raw = append(raw, binary.AppendUvarint(nil, 0)...)
	raw = append(raw, binary.AppendUvarint(nil, 0)...)
	raw = append(raw, 0xFF)

	parent := t.TempDir()
	dest := filepath.Join(parent, "dest")
	_, err := Unpack(bytes.NewReader(raw), dest, "")
	assert.ErrorIs(t, err, paths.ErrTraversal)

	_, statErr := os.Stat(filepath.Join(parent, "outside.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestUnpackSymlinkEscape(t *testing.T) {
	// A symlink entry pointing outside the destination, followed by a
	// file entry beneath it. The second entry passes the lexical check
	// and must be stopped when its real parent is resolved.
	outside := t.TempDir()

	var buf bytes.Buffer
	w := codecs["bag"].NewWriter(&buf)
	require.NoError(t, w.WriteEntry(entry.Entry{
		Path: "ln", Kind: entry.Symlink, Mode: 0777, LinkTarget: outside,
	}, nil))
	require.NoError(t, w.WriteEntry(entry.Entry{
		Path: "ln/pwned.txt", Kind: entry.Regular, Mode: 0644, Size: 2,
	}, strings.NewReader("hi")))
	require.NoError(t, w.Close())

	dest := t.TempDir()
	_, err := Unpack(&buf, dest, "bag")
	assert.ErrorIs(t, err, paths.ErrTraversal)

	_, statErr := os.Stat(filepath.Join(outside, "pwned.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestUnpackReplacesSymlinkTarget(t *testing.T) {
	// A file entry landing where a symlink already sits must replace
	// the link, never write through it.
	outside := t.TempDir()
	victim := filepath.Join(outside, "victim.txt")
	require.NoError(t, os.WriteFile(victim, []byte("untouched"), 0644))

	var buf bytes.Buffer
	w := codecs["bag"].NewWriter(&buf)
	require.NoError(t, w.WriteEntry(entry.Entry{
		Path: "f", Kind: entry.Symlink, Mode: 0777, LinkTarget: victim,
	}, nil))
	require.NoError(t, w.WriteEntry(entry.Entry{
		Path: "f", Kind: entry.Regular, Mode: 0644, Size: 3,
	}, strings.NewReader("new")))
	require.NoError(t, w.Close())

	dest := t.TempDir()
	_, err := Unpack(&buf, dest, "bag")
	require.NoError(t, err)

	data, err := os.ReadFile(victim)
	require.NoError(t, err)
	assert.Equal(t, "untouched", string(data))

	fi, err := os.Lstat(filepath.Join(dest, "f"))
	require.NoError(t, err)
	assert.True(t, fi.Mode().IsRegular())
}

func TestList(t *testing.T) {
	src := t.TempDir()
	makeTree(t, src, map[string]string{"top/a.txt": "hi"})
	chdir(t, src)

	var buf bytes.Buffer
	_, err := Pack([]string{"top"}, &buf, PackOptions{})
	require.NoError(t, err)

	var got []entry.Entry
	err = List(&buf, "", func(e entry.Entry) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "top", got[0].Path)
	assert.Equal(t, entry.Dir, got[0].Kind)
	assert.Equal(t, "top/a.txt", got[1].Path)
	assert.Equal(t, int64(2), got[1].Size)
}

func TestListSkipsPayloads(t *testing.T) {
	src := t.TempDir()
	makeTree(t, src, map[string]string{
		"top/a.txt": "payload one",
		"top/b.txt": "payload two",
	})
	chdir(t, src)

	for _, format := range Formats() {
		var buf bytes.Buffer
		_, err := Pack(
			[]string{"top"}, &buf, PackOptions{Format: format},
		)
		require.NoError(t, err)

		var n int
		err = List(&buf, format, func(entry.Entry) error {
			n++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	}
}

func TestUnpackOverwritesExisting(t *testing.T) {
	src := t.TempDir()
	makeTree(t, src, map[string]string{"a.txt": "new"})
	chdir(t, src)

	var buf bytes.Buffer
	_, err := Pack([]string{"a.txt"}, &buf, PackOptions{})
	require.NoError(t, err)

	dest := t.TempDir()
	makeTree(t, dest, map[string]string{"a.txt": "old contents"})
	_, err = Unpack(&buf, dest, "")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}
