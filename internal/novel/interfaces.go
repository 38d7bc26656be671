package novel

import (
	"context"
	"time"
)

// Extractor fetches one chapter page and parses it into prose plus the next
// frontier URL.
type Extractor interface {
	Extract(ctx context.Context, pageURL string) (Extraction, error)
}

// Translator turns source-language prose into the target language in a single
// attempt. Implementations must not retry.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// StateStore persists the crawl state document with whole-object overwrite
// semantics.
type StateStore interface {
	LoadState(ctx context.Context) (CrawlState, error)
	SaveState(ctx context.Context, state CrawlState) error
}

// IndexStore persists the chapter index document with whole-object overwrite
// semantics.
type IndexStore interface {
	LoadIndex(ctx context.Context) ([]ChapterRecord, error)
	SaveIndex(ctx context.Context, index []ChapterRecord) error
}

// ErrorLog persists the append-only failure log.
type ErrorLog interface {
	Append(ctx context.Context, rec ErrorRecord) error
	List(ctx context.Context) ([]ErrorRecord, error)
	Clear(ctx context.Context) error
}

// ChapterStore renders and persists chapter bodies plus the durable index.
type ChapterStore interface {
	Save(ctx context.Context, number int, title, body string) (ChapterRecord, error)
	List(ctx context.Context) ([]ChapterRecord, error)
	Get(ctx context.Context, number int) ([]byte, error)
	DeleteAll(ctx context.Context) error
}

// BlobStore writes rendered chapter fragments and returns a URI.
type BlobStore interface {
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Hasher computes digests for integrity checks on stored fragments.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Pauser blocks for the inter-chapter delay, returning early when the context
// is canceled.
type Pauser interface {
	Pause(ctx context.Context, d time.Duration)
}
