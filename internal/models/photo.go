// Package models defines the catalog records shared by the store, the sync
// engine and the upload coordinator.
package models

import "time"

// BackupStatus tracks where a photo is in the backup pipeline.
type BackupStatus string

const (
	BackupNotQueued BackupStatus = "notQueued"
	BackupQueued    BackupStatus = "queued"
	BackupUploaded  BackupStatus = "uploaded"
	BackupFailed    BackupStatus = "failed"
)

// PhotoEntry is one catalog row, keyed by the MD5 of the photo bytes.
type PhotoEntry struct {
	// ContentHash is 32 lowercase hex chars and never changes once set.
	ContentHash string

	Filename     string
	FileSize     int64
	PhotoDate    time.Time
	ModifiedDate time.Time

	// PixelWidth and PixelHeight are zero when unknown.
	PixelWidth  int
	PixelHeight int

	// SourceID is the opaque device-library identifier, if any.
	SourceID string

	IsStarred    bool
	BackupStatus BackupStatus
}

// HasDimensions reports whether both pixel dimensions are known.
func (e PhotoEntry) HasDimensions() bool {
	return e.PixelWidth > 0 && e.PixelHeight > 0
}

// Merge folds the mutable fields of upd into e. Content-derived fields
// (size, dimensions) are only filled when e does not know them yet.
func (e *PhotoEntry) Merge(upd PhotoEntry) {
	if upd.Filename != "" {
		e.Filename = upd.Filename
	}
	if !upd.PhotoDate.IsZero() {
		e.PhotoDate = upd.PhotoDate
	}
	if !upd.ModifiedDate.IsZero() {
		e.ModifiedDate = upd.ModifiedDate
	}
	if upd.SourceID != "" {
		e.SourceID = upd.SourceID
	}
	if e.FileSize == 0 {
		e.FileSize = upd.FileSize
	}
	if !e.HasDimensions() && upd.HasDimensions() {
		e.PixelWidth, e.PixelHeight = upd.PixelWidth, upd.PixelHeight
	}
	e.IsStarred = upd.IsStarred
	if upd.BackupStatus != "" {
		e.BackupStatus = upd.BackupStatus
	}
}
