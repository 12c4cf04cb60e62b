package scheduler

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nao1215/sprite/internal/model"
)

// SnapshotPath returns the snapshot file for a crawl name in jobDir.
func SnapshotPath(jobDir, name string) string {
	return filepath.Join(jobDir, name+".requests.jsonl")
}

// FilterPath returns the persisted filter file for a crawl name in jobDir.
func FilterPath(jobDir, name string) string {
	return filepath.Join(jobDir, name+".filter")
}

// SaveSnapshot writes requests as JSON lines, one request per line, in
// delivery order. The file is replaced atomically.
func SaveSnapshot(path string, reqs []*model.Request) error {
	return writeFileAtomic(path, func(w *bufio.Writer) error {
		enc := json.NewEncoder(w)
		for _, r := range reqs {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("encode %s: %w", r.URL, err)
			}
		}
		return nil
	})
}

// LoadSnapshot reads a snapshot written by SaveSnapshot. A line that cannot
// be decoded is skipped and reported through the returned bad count.
func LoadSnapshot(path string) (reqs []*model.Request, bad int, err error) {
	file, err := os.Open(path) //nolint:gosec // path is built from the job directory
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r model.Request
		if err := json.Unmarshal(line, &r); err != nil || r.URL == "" {
			bad++
			continue
		}
		reqs = append(reqs, &r)
	}
	if err := scanner.Err(); err != nil {
		return reqs, bad, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	return reqs, bad, nil
}

func writeFileAtomic(path string, write func(*bufio.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create job directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	if err := write(w); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
