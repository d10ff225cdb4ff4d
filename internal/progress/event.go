package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Harvest stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageRunDone   Stage = "RUN_DONE"
	StageSiteStart Stage = "SITE_START"
	StageSiteDone  Stage = "SITE_DONE"
	StageSiteError Stage = "SITE_ERROR"
	StagePageDone  Stage = "PAGE_DONE"
	StageImageDone Stage = "IMAGE_DONE"
)

// Event is one progress milestone.
type Event struct {
	// RunID is the 16-byte UUID of the harvest run.
	RunID [16]byte
	// TS is the UTC time the emitter observed the milestone.
	TS    time.Time
	Stage Stage
	// Site is the site name for site, page and image stages.
	Site string
	URL  string
	// Verdict is the page classification for PAGE_DONE.
	Verdict string
	// Outcome is the download outcome for IMAGE_DONE.
	Outcome string
	Bytes   int64
	// Dur is the elapsed time for SITE_DONE, SITE_ERROR and RUN_DONE.
	Dur time.Duration
	// Note holds low-volume context such as an error message.
	Note string
}

// Validate rejects events that sinks cannot attribute.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageSiteStart, StageSiteDone, StageSiteError:
		if e.Site == "" {
			return fmt.Errorf("%s requires site", e.Stage)
		}
	case StagePageDone:
		if e.Site == "" || e.Verdict == "" {
			return errors.New("page done requires site and verdict")
		}
	case StageImageDone:
		if e.Site == "" || e.Outcome == "" {
			return errors.New("image done requires site and outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	return [16]byte(id)
}

// ParseRunID parses a textual run ID into the Event form.
func ParseRunID(s string) ([16]byte, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id: %w", err)
	}
	return UUIDToBytes(id), nil
}
