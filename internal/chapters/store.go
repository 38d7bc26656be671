// Package chapters persists translated chapter bodies as HTML fragments and
// maintains the durable chapter index. Bodies live in a blob store under
// deterministic zero-padded keys; the index is the source of truth for what
// exists and carries a checksum per body so reads can detect tampering or
// partial writes.
package chapters

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/chaptermill/chaptermill/internal/novel"
)

// Config controls key layout and upload metadata.
type Config struct {
	// Prefix is the key prefix for chapter objects (default "chapters").
	Prefix string
	// ContentType is attached to uploads where the backend supports it.
	ContentType string
}

// Store implements novel.ChapterStore on top of a blob backend and the
// durable index document.
type Store struct {
	cfg    Config
	blobs  novel.BlobStore
	index  novel.IndexStore
	hasher novel.Hasher
	clock  novel.Clock
	logger *zap.Logger
}

// New constructs a Store.
func New(
	cfg Config,
	blobs novel.BlobStore,
	index novel.IndexStore,
	hasher novel.Hasher,
	clock novel.Clock,
	logger *zap.Logger,
) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "chapters"
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Store{
		cfg:    cfg,
		blobs:  blobs,
		index:  index,
		hasher: hasher,
		clock:  clock,
		logger: logger,
	}
}

// Key returns the object key for a chapter number.
func (s *Store) Key(number int) string {
	return path.Join(s.cfg.Prefix, fmt.Sprintf("%04d.html", number))
}

// Save renders the chapter into a paragraph-wrapped fragment, uploads it, and
// records it in the index. Re-saving an existing number replaces its record,
// which keeps resumed runs idempotent.
func (s *Store) Save(ctx context.Context, number int, title, body string) (novel.ChapterRecord, error) {
	if number < 1 {
		return novel.ChapterRecord{}, &novel.StorageError{
			Op:  "save",
			Key: s.Key(number),
			Err: fmt.Errorf("chapter number %d out of range", number),
		}
	}

	doc := render(title, body)
	digest, err := s.hasher.Hash(doc)
	if err != nil {
		return novel.ChapterRecord{}, &novel.StorageError{Op: "hash", Key: s.Key(number), Err: err}
	}

	key := s.Key(number)
	uri, err := s.blobs.Put(ctx, key, s.cfg.ContentType, doc)
	if err != nil {
		return novel.ChapterRecord{}, &novel.StorageError{Op: "put", Key: key, Err: err}
	}

	rec := novel.ChapterRecord{
		Number:   number,
		Key:      key,
		Title:    title,
		Checksum: digest,
		SavedAt:  s.clock.Now(),
	}

	index, err := s.index.LoadIndex(ctx)
	if err != nil {
		return novel.ChapterRecord{}, err
	}
	index = upsertRecord(index, rec)
	if err := s.index.SaveIndex(ctx, index); err != nil {
		return novel.ChapterRecord{}, err
	}

	s.logger.Debug("chapter saved",
		zap.Int("number", number),
		zap.String("key", key),
		zap.String("uri", uri),
		zap.String("checksum", digest),
	)
	return rec, nil
}

// List returns all indexed chapters sorted by number.
func (s *Store) List(ctx context.Context) ([]novel.ChapterRecord, error) {
	index, err := s.index.LoadIndex(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(index, func(i, j int) bool { return index[i].Number < index[j].Number })
	return index, nil
}

// Get returns the stored fragment for a chapter number. Numbers absent from
// the index return novel.ErrNotFound; an indexed body that is missing or does
// not match its recorded checksum is a storage failure, not absence.
func (s *Store) Get(ctx context.Context, number int) ([]byte, error) {
	index, err := s.index.LoadIndex(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := findRecord(index, number)
	if !ok {
		return nil, novel.ErrNotFound
	}

	data, err := s.blobs.Get(ctx, rec.Key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &novel.StorageError{Op: "get", Key: rec.Key, Err: fmt.Errorf("indexed body missing: %w", err)}
		}
		return nil, &novel.StorageError{Op: "get", Key: rec.Key, Err: err}
	}

	if rec.Checksum != "" {
		digest, err := s.hasher.Hash(data)
		if err != nil {
			return nil, &novel.StorageError{Op: "verify", Key: rec.Key, Err: err}
		}
		if digest != rec.Checksum {
			return nil, &novel.StorageError{
				Op:  "verify",
				Key: rec.Key,
				Err: fmt.Errorf("checksum mismatch: index has %s, body hashes to %s", rec.Checksum, digest),
			}
		}
	}
	return data, nil
}

// DeleteAll removes every stored chapter object and clears the index. Object
// deletion is not transactional: a failure part-way leaves earlier chapters
// deleted, which Reset callers accept.
func (s *Store) DeleteAll(ctx context.Context) error {
	index, err := s.index.LoadIndex(ctx)
	if err != nil {
		return err
	}
	for _, rec := range index {
		if err := s.blobs.Delete(ctx, rec.Key); err != nil {
			return &novel.StorageError{Op: "delete", Key: rec.Key, Err: err}
		}
	}
	if err := s.index.SaveIndex(ctx, nil); err != nil {
		return err
	}
	s.logger.Info("chapter store cleared", zap.Int("deleted", len(index)))
	return nil
}

// render produces the minimal HTML fragment: an optional heading followed by
// one <p> per paragraph. Text content is escaped.
func render(title, body string) []byte {
	var b strings.Builder
	if title != "" {
		b.WriteString("<h1>")
		b.WriteString(html.EscapeString(title))
		b.WriteString("</h1>\n")
	}
	for _, para := range novel.SplitParagraphs(body) {
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(para))
		b.WriteString("</p>\n")
	}
	return []byte(b.String())
}

func upsertRecord(index []novel.ChapterRecord, rec novel.ChapterRecord) []novel.ChapterRecord {
	for i := range index {
		if index[i].Number == rec.Number {
			index[i] = rec
			return index
		}
	}
	return append(index, rec)
}

func findRecord(index []novel.ChapterRecord, number int) (novel.ChapterRecord, bool) {
	for _, rec := range index {
		if rec.Number == number {
			return rec, true
		}
	}
	return novel.ChapterRecord{}, false
}
