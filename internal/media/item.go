// Package media adapts the places a photo can come from to the one
// capability set the catalog core needs: stable identity, full bytes and a
// best-effort thumbnail.
package media

import (
	"context"
	"errors"
	"io"
)

// Kind tags an item variant.
type Kind string

const (
	KindLocalFile    Kind = "local-file"
	KindLibraryAsset Kind = "library-asset"
	KindRemoteObject Kind = "remote-object"
)

// ErrNoThumbnail is returned when an item cannot produce a thumbnail.
var ErrNoThumbnail = errors.New("no thumbnail available")

// Item is a photo reference handed to the coordinator. ID must stay stable
// across a pause and resume of the same batch.
type Item interface {
	ID() string
	DisplayName() string
	Kind() Kind
	// SourceID is the device-library identifier, empty if the item has none.
	SourceID() string
	// Size is the content length in bytes, or -1 when unknown.
	Size() int64
	Open(ctx context.Context) (io.ReadCloser, error)
	Thumbnail(ctx context.Context) ([]byte, error)
}

// Thumbnailer renders a thumbnail for raw content. Rendering lives outside
// this module; hosts plug an implementation in.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, open func(ctx context.Context) (io.ReadCloser, error)) ([]byte, error)
}

// Resolver maps item IDs back to items, so a checkpoint that stores only
// IDs can be resumed.
type Resolver interface {
	Resolve(ctx context.Context, id string) (Item, error)
}
