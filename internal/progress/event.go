// Package progress defines the event structures emitted by the pipeline worker.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages. Run stages mark lifecycle transitions of a whole
// crawl run; chapter stages mark per-chapter pipeline steps.
const (
	StageRunStart          Stage = "RUN_START"
	StageRunDone           Stage = "RUN_DONE"
	StageRunStopped        Stage = "RUN_STOPPED"
	StageRunError          Stage = "RUN_ERROR"
	StageChapterFetched    Stage = "CHAPTER_FETCHED"
	StageChapterTranslated Stage = "CHAPTER_TRANSLATED"
	StageChapterSaved      Stage = "CHAPTER_SAVED"
)

// Event captures a single milestone of pipeline progress.
type Event struct {
	// RunID uniquely identifies a crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which run lifecycle or chapter milestone occurred.
	Stage Stage
	// BookID names the book being processed; required for RUN_START so
	// repository sinks can open a run record.
	BookID string
	// URL is the source page the chapter came from, when known.
	URL string
	// Chapter is the 1-based chapter number for chapter stages.
	Chapter int
	// Bytes carries the text size produced by the stage (extracted or
	// translated characters, rendered HTML for saves).
	Bytes int64
	// Dur captures stage latency for chapter events and total wall time for
	// terminal run events.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
		if e.BookID == "" {
			return errors.New("run start requires book id")
		}
	case StageRunDone, StageRunStopped, StageRunError:
	case StageChapterFetched, StageChapterTranslated, StageChapterSaved:
		if e.Chapter < 1 {
			return errors.New("chapter stages require a chapter number")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
