package novel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCrawlStateVisited(t *testing.T) {
	t.Parallel()

	s := NewCrawlState()
	require.False(t, s.Seen("https://example.com/1"))

	require.True(t, s.MarkVisited("https://example.com/1"))
	require.True(t, s.Seen("https://example.com/1"))

	// Marking again is a no-op.
	require.False(t, s.MarkVisited("https://example.com/1"))
	require.Len(t, s.Visited, 1)

	require.False(t, s.MarkVisited(""))
}

func TestCrawlStateUnmarkVisited(t *testing.T) {
	t.Parallel()

	s := NewCrawlState()
	for _, u := range []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"} {
		require.True(t, s.MarkVisited(u))
	}

	s.UnmarkVisited("https://example.com/2")
	require.False(t, s.Seen("https://example.com/2"))
	require.Equal(t, []string{"https://example.com/1", "https://example.com/3"}, s.Visited)

	// Absent URLs are a no-op.
	s.UnmarkVisited("https://example.com/9")
	require.Equal(t, []string{"https://example.com/1", "https://example.com/3"}, s.Visited)
}

func TestCrawlStateValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*CrawlState)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*CrawlState) {},
		},
		{
			name:    "negative chapter count",
			mutate:  func(s *CrawlState) { s.ChapterCount = -1 },
			wantErr: "chapter_count",
		},
		{
			name:    "missing action",
			mutate:  func(s *CrawlState) { s.LastAction = "" },
			wantErr: "last_action is required",
		},
		{
			name:    "unknown action",
			mutate:  func(s *CrawlState) { s.LastAction = "exploding" },
			wantErr: "unknown last_action",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewCrawlState()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.wantErr),
				"error %q should contain %q", err.Error(), tt.wantErr)
		})
	}
}

func TestChapterRecordValidate(t *testing.T) {
	t.Parallel()

	ok := ChapterRecord{Number: 1, Key: "chapters/0001.html"}
	require.NoError(t, ok.Validate())

	require.Error(t, ChapterRecord{Number: 0, Key: "k"}.Validate())
	require.Error(t, ChapterRecord{Number: 3}.Validate())
}
