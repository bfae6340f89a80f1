package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/ini.v1"

	logx "repowatch/pkg/logx"
)

// watermarkKey is the per-section key holding the last seen revision.
// It matches the key svnnotify wrote into its config file, so an old
// svnnotify.cfg can serve as the state file unchanged.
const watermarkKey = "last_revision"

// fileStore keeps watermarks in an INI file and the cycle journal in JSON Lines.
//
// Files:
//   - <path>                 (one section per repository)
//   - <prefix>.cycles.jsonl  (append-only)
//
// Every PutWatermark re-reads the file, changes one key and replaces the file
// via rename, so readers never observe a partial write and sections written by
// anything else (including config keys of a legacy config file) survive.
type fileStore struct {
	log logx.Logger

	mu    sync.Mutex
	path  string
	marks map[string]int64

	cycleFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	f, err := loadINI(path)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	cycles, err := os.OpenFile(filepath.Join(dir, base+".cycles.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:       log,
		path:      path,
		marks:     watermarksOf(f, log),
		cycleFile: cycles,
	}, nil
}

func loadINI(path string) (*ini.File, error) {
	// Loose: a missing file is an empty state, not an error.
	f, err := ini.LoadSources(ini.LoadOptions{Loose: true, IgnoreInlineComment: true}, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return f, nil
}

// watermarksOf reads each section's own last_revision. go-ini resolves
// Key/HasKey through parent sections ("a.b" inherits from "a"), so only the
// section's own key hash is consulted.
func watermarksOf(f *ini.File, log logx.Logger) map[string]int64 {
	out := map[string]int64{}
	for _, sec := range f.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		raw, ok := sec.KeysHash()[watermarkKey]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			log.Warn("ignoring unreadable watermark", logx.String("repo", sec.Name()), logx.Err(err))
			continue
		}
		out[sec.Name()] = v
	}
	return out
}

func (s *fileStore) GetWatermark(ctx context.Context, repo string) (int64, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rev, ok := s.marks[repo]
	return rev, ok, nil
}

func (s *fileStore) PutWatermark(ctx context.Context, repo string, rev int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkSectionName(repo); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marks == nil {
		return ErrClosed
	}

	f, err := loadINI(s.path)
	if err != nil {
		return err
	}
	// NewKey, unlike Key, never touches a parent section's entry.
	if _, err := f.Section(repo).NewKey(watermarkKey, strconv.FormatInt(rev, 10)); err != nil {
		return err
	}

	if err := writeAtomic(s.path, f); err != nil {
		return err
	}
	// Refresh from what is now on disk, picking up external edits as well.
	s.marks = watermarksOf(f, s.log)
	return nil
}

// checkSectionName rejects repository names the INI layout cannot round-trip.
func checkSectionName(repo string) error {
	switch {
	case strings.TrimSpace(repo) == "":
		return errors.New("empty repository name")
	case strings.EqualFold(repo, ini.DefaultSection):
		return fmt.Errorf("repository name %q is reserved by the state file", repo)
	case strings.ContainsAny(repo, "[]\r\n"):
		return fmt.Errorf("repository name %q cannot be stored as a section", repo)
	}
	return nil
}

func writeAtomic(path string, f *ini.File) error {
	mode := fs.FileMode(0o600)
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := f.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func (s *fileStore) AppendCycle(ctx context.Context, rec CycleRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycleFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.cycleFile).Encode(rec)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks = nil
	if s.cycleFile == nil {
		return nil
	}
	err := s.cycleFile.Close()
	s.cycleFile = nil
	return err
}
