package novel

import (
	"fmt"
	"time"
)

// Action represents the lifecycle phase the pipeline last reported.
type Action string

// Action values persisted in the crawl state document.
const (
	ActionIdle        Action = "idle"
	ActionFetching    Action = "fetching"
	ActionTranslating Action = "translating"
	ActionSaving      Action = "saving"
	ActionError       Action = "error"
	ActionCompleted   Action = "completed"
)

// knownActions guards state documents loaded from disk against junk values.
var knownActions = map[Action]struct{}{
	ActionIdle:        {},
	ActionFetching:    {},
	ActionTranslating: {},
	ActionSaving:      {},
	ActionError:       {},
	ActionCompleted:   {},
}

// CrawlState is the durable progress record for one book. The worker is the
// sole writer while a run is active; the control surface only flips Running
// (stop) or seeds CurrentURL before a start.
type CrawlState struct {
	Running      bool      `json:"running"`
	CurrentURL   string    `json:"current_url,omitempty"`
	ChapterCount int       `json:"chapter_count"`
	Visited      []string  `json:"visited,omitempty"`
	LastAction   Action    `json:"last_action"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewCrawlState returns the defaults used when no prior state exists.
func NewCrawlState() CrawlState {
	return CrawlState{LastAction: ActionIdle}
}

// Seen reports whether url was ever dequeued as a frontier URL.
func (s *CrawlState) Seen(url string) bool {
	for _, v := range s.Visited {
		if v == url {
			return true
		}
	}
	return false
}

// MarkVisited records url in the visited set. It returns false when the URL
// was already present.
func (s *CrawlState) MarkVisited(url string) bool {
	if url == "" || s.Seen(url) {
		return false
	}
	s.Visited = append(s.Visited, url)
	return true
}

// UnmarkVisited removes url from the visited set. An iteration that ends
// before its chapter is saved hands the frontier URL back this way, so the
// next run fetches it instead of halting on the cycle check.
func (s *CrawlState) UnmarkVisited(url string) {
	for i, v := range s.Visited {
		if v == url {
			s.Visited = append(s.Visited[:i], s.Visited[i+1:]...)
			return
		}
	}
}

// Validate rejects state documents that cannot have been written by this
// program, so corrupt files fall back to defaults instead of propagating.
func (s CrawlState) Validate() error {
	if s.ChapterCount < 0 {
		return fmt.Errorf("chapter_count must be >= 0, got %d", s.ChapterCount)
	}
	if s.LastAction == "" {
		return fmt.Errorf("last_action is required")
	}
	if _, ok := knownActions[s.LastAction]; !ok {
		return fmt.Errorf("unknown last_action %q", s.LastAction)
	}
	return nil
}

// ChapterRecord is one entry of the durable chapter index. Records are
// immutable once written; only a reset removes them.
type ChapterRecord struct {
	Number   int       `json:"number"`
	Key      string    `json:"key"`
	Title    string    `json:"title,omitempty"`
	Checksum string    `json:"checksum,omitempty"`
	SavedAt  time.Time `json:"saved_at"`
}

// Validate checks a single index entry loaded from disk.
func (r ChapterRecord) Validate() error {
	if r.Number < 1 {
		return fmt.Errorf("chapter number must be >= 1, got %d", r.Number)
	}
	if r.Key == "" {
		return fmt.Errorf("chapter %d has no storage key", r.Number)
	}
	return nil
}

// ErrorRecord is one entry of the append-only failure log.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Chapter   int       `json:"chapter"`
	URL       string    `json:"url,omitempty"`
	Stage     Action    `json:"stage,omitempty"`
	Message   string    `json:"message"`
}

// Extraction is the parsed result of one chapter page. NextURL is empty at
// the end of the book; that is the normal termination signal, not an error.
type Extraction struct {
	Title   string
	Text    string
	NextURL string
}

// Status is the control-surface snapshot returned to callers.
type Status struct {
	Book         string `json:"book"`
	Running      bool   `json:"running"`
	Action       Action `json:"action"`
	ChapterCount int    `json:"chapter_count"`
	ErrorCount   int    `json:"error_count"`
	CurrentURL   string `json:"current_url,omitempty"`
}
