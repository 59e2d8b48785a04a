// Package manifest builds content manifests (path, digest, mode, size)
// for the regular files on either side of an archive/directory
// comparison. Digests are BLAKE3.
package manifest

import (
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/kwf/bagger/pkg/codec"
	"github.com/kwf/bagger/pkg/entry"
	"github.com/kwf/bagger/pkg/paths"
)

type Entry struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Mode uint32 `json:"mode"`
	Size int64  `json:"size"`
}

type Manifest map[string]Entry

// FromArchive drains an archive stream into a manifest, hashing each
// regular-file payload as it goes by. Directories and symlinks do not
// participate in content comparison.
func FromArchive(r codec.Reader) (Manifest, error) {
	m := make(Manifest)
	for {
		e, err := r.Next()
		if err == io.EOF {
			return m, nil
		}
		if err != nil {
			return nil, err
		}
		if e.Kind != entry.Regular {
			continue
		}
		h := blake3.New()
		if _, err := io.Copy(h, r); err != nil {
			return nil, err
		}
		m[e.Path] = Entry{
			Path: e.Path,
			Hash: hex.EncodeToString(h.Sum(nil)),
			Mode: e.Mode,
			Size: e.Size,
		}
	}
}

type fileJob struct {
	relPath string
	absPath string
}

type hashResult struct {
	entry Entry
	err   error
}

// FromDir walks dir and hashes every regular file not excluded. The
// stat pass is sequential so ordering stays deterministic; hashing is
// fanned out across workers since digest order does not matter in a
// map.
func FromDir(dir string, excludes []string) (Manifest, error) {
	matcher := paths.NewExcludeMatcher(excludes)

	var jobs []fileJob
	err := filepath.WalkDir(
		dir,
		func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if rel == "." {
				return nil
			}
			if matcher.Match(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			jobs = append(jobs, fileJob{relPath: rel, absPath: p})
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	workers := min(runtime.NumCPU(), len(jobs))
	if workers == 0 {
		return Manifest{}, nil
	}

	jobCh := make(chan fileJob, len(jobs))
	resultCh := make(chan hashResult, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hashWorker(jobCh, resultCh)
		}()
	}

	for _, j := range jobs {
		jobCh <- j
	}
	close(jobCh)

	wg.Wait()
	close(resultCh)

	m := make(Manifest, len(jobs))
	for r := range resultCh {
		if r.err != nil {
			return nil, r.err
		}
		m[r.entry.Path] = r.entry
	}
	return m, nil
}

func hashWorker(jobs <-chan fileJob, results chan<- hashResult) {
	buf := make([]byte, 1<<20)
	for j := range jobs {
		e, err := hashFile(j.absPath, j.relPath, buf)
		results <- hashResult{e, err}
	}
}

func hashFile(absPath, relPath string, buf []byte) (Entry, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Entry{}, err
	}

	h := blake3.New()
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return Entry{}, err
	}

	return Entry{
		Path: relPath,
		Hash: hex.EncodeToString(h.Sum(nil)),
		Mode: uint32(info.Mode().Perm()),
		Size: info.Size(),
	}, nil
}
