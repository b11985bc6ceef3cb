package models

import "time"

type Action string

const (
	ActionStar   Action = "star"
	ActionUnstar Action = "unstar"
	ActionExport Action = "export"
)

type CheckpointStatus string

const (
	CheckpointInProgress CheckpointStatus = "inProgress"
	CheckpointPaused     CheckpointStatus = "paused"
	CheckpointCompleted  CheckpointStatus = "completed"
	CheckpointFailed     CheckpointStatus = "failed"
)

// ItemStage is the pipeline position of one submitted item.
type ItemStage string

const (
	StagePending            ItemStage = "pending"
	StageHashing            ItemStage = "hashing"
	StageDedupeChecked      ItemStage = "dedupe-checked"
	StageThumbnailing       ItemStage = "thumbnailing"
	StageUploadingContent   ItemStage = "uploading-content"
	StageUploadingThumbnail ItemStage = "uploading-thumbnail"
	StageCatalogRecorded    ItemStage = "catalog-recorded"
	StageDownloading        ItemStage = "downloading"
	StageProcessed          ItemStage = "processed"
	StageFailed             ItemStage = "failed"
)

// CheckpointItem is one entry of the originally submitted item list.
type CheckpointItem struct {
	ItemID      string
	DisplayName string
	Position    int
	Stage       ItemStage
}

type ProcessedItem struct {
	ItemID      string
	DisplayName string
	ContentHash string
	ProcessedAt time.Time
	Uploaded    bool
}

type FailedItem struct {
	ItemID      string
	DisplayName string
	Error       string
	FailedAt    time.Time
	RetryCount  int
}

// Checkpoint is the resumable record of one batch operation.
type Checkpoint struct {
	ID         string
	Root       string
	StartDate  time.Time
	UpdatedAt  time.Time
	Action     Action
	Status     CheckpointStatus
	TotalItems int
	// Target is action specific; export stores the destination directory.
	Target string

	Items     []CheckpointItem
	Processed []ProcessedItem
	Failed    []FailedItem

	// Summary counts; set even when the item lists are not loaded.
	ProcessedCount int
	FailedCount    int
}

// IsResumable reports whether the checkpoint may be handed to resume.
func (c *Checkpoint) IsResumable() bool {
	return c.Status == CheckpointPaused || c.Status == CheckpointFailed || c.Status == CheckpointInProgress
}

// Settled returns the item IDs that a resume must not run again: everything
// processed plus failures that have used up retryLimit attempts.
func (c *Checkpoint) Settled(retryLimit int) map[string]struct{} {
	done := make(map[string]struct{}, len(c.Processed)+len(c.Failed))
	for _, p := range c.Processed {
		done[p.ItemID] = struct{}{}
	}
	for _, f := range c.Failed {
		if f.RetryCount >= retryLimit {
			done[f.ItemID] = struct{}{}
		}
	}
	return done
}

// Remainder returns the IDs from original, in order, that still need work.
func (c *Checkpoint) Remainder(original []string, retryLimit int) []string {
	done := c.Settled(retryLimit)
	out := make([]string, 0, len(original))
	for _, id := range original {
		if _, ok := done[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// FailedByID returns the recorded failure for itemID, if any.
func (c *Checkpoint) FailedByID(itemID string) (FailedItem, bool) {
	for _, f := range c.Failed {
		if f.ItemID == itemID {
			return f, true
		}
	}
	return FailedItem{}, false
}

// PermanentlyFailed counts failures at or beyond retryLimit.
func (c *Checkpoint) PermanentlyFailed(retryLimit int) int {
	n := 0
	for _, f := range c.Failed {
		if f.RetryCount >= retryLimit {
			n++
		}
	}
	return n
}
