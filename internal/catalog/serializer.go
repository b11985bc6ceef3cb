package catalog

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/photocatalog/internal/cryptox"
	"github.com/dmitrijs2005/photocatalog/internal/logging"
	"github.com/dmitrijs2005/photocatalog/internal/models"
)

// Header is the first row of every shard file; column order is fixed.
var Header = []string{"contenthash", "filename", "size", "photodate", "modified", "width", "height", "sourceid"}

const (
	colHash = iota
	colFilename
	colSize
	colPhotoDate
	colModified
	colWidth
	colHeight
	colSourceID
)

// EncodeShard writes the starred entries as CSV sorted by content hash.
// Equal entry sets always produce identical bytes.
func EncodeShard(entries []models.PhotoEntry) []byte {
	starred := make([]models.PhotoEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsStarred {
			starred = append(starred, e)
		}
	}
	sortEntries(starred)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	// writes into a bytes.Buffer cannot fail
	_ = w.Write(Header)
	for _, e := range starred {
		_ = w.Write(encodeRow(e))
	}
	w.Flush()
	return buf.Bytes()
}

func encodeRow(e models.PhotoEntry) []string {
	row := make([]string, len(Header))
	row[colHash] = e.ContentHash
	row[colFilename] = e.Filename
	row[colSize] = strconv.FormatInt(e.FileSize, 10)
	row[colPhotoDate] = unixString(e.PhotoDate)
	row[colModified] = unixString(e.ModifiedDate)
	if e.PixelWidth > 0 {
		row[colWidth] = strconv.Itoa(e.PixelWidth)
	}
	if e.PixelHeight > 0 {
		row[colHeight] = strconv.Itoa(e.PixelHeight)
	}
	row[colSourceID] = e.SourceID
	return row
}

func unixString(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.Unix(), 10)
}

func parseUnix(s string) (time.Time, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if v == 0 {
		return time.Time{}, nil
	}
	return time.Unix(v, 0).UTC(), nil
}

func parseOptionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// ShardChecksum is the checksum of a shard's serialized form.
func ShardChecksum(entries []models.PhotoEntry) string {
	return cryptox.Checksum(EncodeShard(entries))
}

// EmptyShardChecksum is the checksum of a shard with no starred entries.
func EmptyShardChecksum() string {
	return ShardChecksum(nil)
}

// DecodeShard parses a shard file. Malformed rows are logged and skipped;
// extra trailing columns are ignored. Decoded entries are starred and
// uploaded, since only those are ever published.
func DecodeShard(ctx context.Context, r io.Reader, log logging.Logger) ([]models.PhotoEntry, error) {
	if log == nil {
		log = logging.Nop()
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var (
		out  []models.PhotoEntry
		line int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++

		var perr *csv.ParseError
		if errors.As(err, &perr) {
			log.Warn(ctx, "skipping malformed shard line", "line", perr.Line, "error", perr.Err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read shard: %w", err)
		}

		if line == 1 && len(rec) > 0 && strings.EqualFold(rec[0], Header[0]) {
			continue
		}

		e, err := decodeRow(rec)
		if err != nil {
			log.Warn(ctx, "skipping malformed shard line", "line", line, "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func decodeRow(rec []string) (models.PhotoEntry, error) {
	if len(rec) < len(Header) {
		return models.PhotoEntry{}, fmt.Errorf("expected %d columns, got %d", len(Header), len(rec))
	}
	if err := ValidateContentHash(rec[colHash]); err != nil {
		return models.PhotoEntry{}, err
	}

	size, err := strconv.ParseInt(rec[colSize], 10, 64)
	if err != nil || size < 0 {
		return models.PhotoEntry{}, fmt.Errorf("bad size %q", rec[colSize])
	}
	photoDate, err := parseUnix(rec[colPhotoDate])
	if err != nil {
		return models.PhotoEntry{}, fmt.Errorf("bad photodate %q", rec[colPhotoDate])
	}
	modified, err := parseUnix(rec[colModified])
	if err != nil {
		return models.PhotoEntry{}, fmt.Errorf("bad modified %q", rec[colModified])
	}
	width, err := parseOptionalInt(rec[colWidth])
	if err != nil {
		return models.PhotoEntry{}, fmt.Errorf("bad width %q", rec[colWidth])
	}
	height, err := parseOptionalInt(rec[colHeight])
	if err != nil {
		return models.PhotoEntry{}, fmt.Errorf("bad height %q", rec[colHeight])
	}

	return models.PhotoEntry{
		ContentHash:  rec[colHash],
		Filename:     rec[colFilename],
		FileSize:     size,
		PhotoDate:    photoDate,
		ModifiedDate: modified,
		PixelWidth:   width,
		PixelHeight:  height,
		SourceID:     rec[colSourceID],
		IsStarred:    true,
		BackupStatus: models.BackupUploaded,
	}, nil
}
