package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/chaptermill/chaptermill/internal/novel"
)

// Document file names inside the book directory.
const (
	stateFile  = "state.json"
	indexFile  = "index.json"
	errorsFile = "errors.json"
)

// FileStore keeps the three book documents on the local filesystem. It
// implements novel.StateStore, novel.IndexStore, and novel.ErrorLog.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates the book directory if needed and verifies it is
// writable.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	probe := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("state directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up writability probe: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// LoadState returns the crawl state document, or defaults when it is absent
// or unreadable. Absence is a normal first boot; corruption is logged and the
// damaged file is set aside.
func (s *FileStore) LoadState(_ context.Context) (novel.CrawlState, error) {
	var st novel.CrawlState
	switch err := s.readDoc(stateFile, &st); {
	case err == nil:
		if vErr := st.Validate(); vErr != nil {
			s.quarantine(stateFile, vErr)
			return novel.NewCrawlState(), nil
		}
		return st, nil
	case os.IsNotExist(err):
		s.logger.Debug("no prior crawl state, starting fresh", zap.String("file", stateFile))
		return novel.NewCrawlState(), nil
	case isCorrupt(err):
		s.quarantine(stateFile, err)
		return novel.NewCrawlState(), nil
	default:
		return novel.CrawlState{}, &novel.StorageError{Op: "load", Key: stateFile, Err: err}
	}
}

// SaveState rewrites the whole crawl state document.
func (s *FileStore) SaveState(_ context.Context, st novel.CrawlState) error {
	return s.writeDoc(stateFile, st)
}

// LoadIndex returns the chapter index, or an empty index when the document is
// absent or unreadable.
func (s *FileStore) LoadIndex(_ context.Context) ([]novel.ChapterRecord, error) {
	var index []novel.ChapterRecord
	switch err := s.readDoc(indexFile, &index); {
	case err == nil:
		for _, rec := range index {
			if vErr := rec.Validate(); vErr != nil {
				s.quarantine(indexFile, vErr)
				return nil, nil
			}
		}
		return index, nil
	case os.IsNotExist(err):
		s.logger.Debug("no prior chapter index, starting fresh", zap.String("file", indexFile))
		return nil, nil
	case isCorrupt(err):
		s.quarantine(indexFile, err)
		return nil, nil
	default:
		return nil, &novel.StorageError{Op: "load", Key: indexFile, Err: err}
	}
}

// SaveIndex rewrites the whole chapter index document.
func (s *FileStore) SaveIndex(_ context.Context, index []novel.ChapterRecord) error {
	if index == nil {
		index = []novel.ChapterRecord{}
	}
	return s.writeDoc(indexFile, index)
}

// Append adds one record to the error log and rewrites the document.
func (s *FileStore) Append(ctx context.Context, rec novel.ErrorRecord) error {
	log, err := s.List(ctx)
	if err != nil {
		return err
	}
	return s.writeDoc(errorsFile, append(log, rec))
}

// List returns the full error log, oldest first.
func (s *FileStore) List(_ context.Context) ([]novel.ErrorRecord, error) {
	var log []novel.ErrorRecord
	switch err := s.readDoc(errorsFile, &log); {
	case err == nil:
		return log, nil
	case os.IsNotExist(err):
		return nil, nil
	case isCorrupt(err):
		s.quarantine(errorsFile, err)
		return nil, nil
	default:
		return nil, &novel.StorageError{Op: "load", Key: errorsFile, Err: err}
	}
}

// Clear empties the error log.
func (s *FileStore) Clear(_ context.Context) error {
	return s.writeDoc(errorsFile, []novel.ErrorRecord{})
}

func (s *FileStore) readDoc(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &corruptError{err: err}
	}
	return nil
}

// writeDoc performs the atomic whole-object rewrite: marshal, write a temp
// file in the same directory, fsync, rename over the target.
func (s *FileStore) writeDoc(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &novel.StorageError{Op: "marshal", Key: name, Err: err}
	}
	target := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return &novel.StorageError{Op: "write", Key: name, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &novel.StorageError{Op: "write", Key: name, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &novel.StorageError{Op: "sync", Key: name, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &novel.StorageError{Op: "close", Key: name, Err: err}
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return &novel.StorageError{Op: "rename", Key: name, Err: err}
	}
	return nil
}

// quarantine sets a damaged document aside so the next load starts clean and
// the original bytes stay available for diagnosis.
func (s *FileStore) quarantine(name string, cause error) {
	src := filepath.Join(s.dir, name)
	dst := src + ".corrupt"
	if err := os.Rename(src, dst); err != nil {
		s.logger.Warn("corrupt document could not be set aside",
			zap.String("file", name), zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	s.logger.Warn("corrupt document set aside, starting fresh",
		zap.String("file", name), zap.String("saved_as", dst), zap.NamedError("cause", cause))
}

type corruptError struct {
	err error
}

func (e *corruptError) Error() string { return fmt.Sprintf("corrupt document: %v", e.err) }

func (e *corruptError) Unwrap() error { return e.err }

func isCorrupt(err error) bool {
	_, ok := err.(*corruptError)
	return ok
}
