package media

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/photocatalog/internal/catalog"
	"github.com/dmitrijs2005/photocatalog/internal/objstore"
)

const remotePrefix = "remote:"

// RemoteObject is backed-up content addressed by hash in the object store.
type RemoteObject struct {
	store  objstore.Store
	layout catalog.Layout
	entry  RemoteEntry
}

// RemoteEntry is what a RemoteObject needs to know about its catalog row.
type RemoteEntry struct {
	ContentHash string
	Filename    string
	Size        int64
}

func NewRemoteObject(store objstore.Store, layout catalog.Layout, e RemoteEntry) *RemoteObject {
	return &RemoteObject{store: store, layout: layout, entry: e}
}

func (o *RemoteObject) ID() string { return remotePrefix + o.entry.ContentHash }

func (o *RemoteObject) DisplayName() string {
	if o.entry.Filename != "" {
		return o.entry.Filename
	}
	return o.entry.ContentHash
}

func (o *RemoteObject) Kind() Kind          { return KindRemoteObject }
func (o *RemoteObject) SourceID() string    { return "" }
func (o *RemoteObject) Size() int64         { return o.entry.Size }
func (o *RemoteObject) ContentHash() string { return o.entry.ContentHash }

func (o *RemoteObject) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, _, err := o.store.Get(ctx, o.layout.PhotoKey(o.entry.ContentHash))
	return rc, err
}

func (o *RemoteObject) Thumbnail(ctx context.Context) ([]byte, error) {
	b, _, err := objstore.GetBytes(ctx, o.store, o.layout.ThumbnailKey(o.entry.ContentHash))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoThumbnail, err)
	}
	return b, nil
}

// HashFromRemoteID extracts the content hash from a RemoteObject ID.
func HashFromRemoteID(id string) (string, bool) {
	return strings.CutPrefix(id, remotePrefix)
}

// MultiResolver dispatches on the ID prefix.
type MultiResolver map[Kind]Resolver

func (m MultiResolver) Resolve(ctx context.Context, id string) (Item, error) {
	var kind Kind
	switch {
	case strings.HasPrefix(id, filePrefix):
		kind = KindLocalFile
	case strings.HasPrefix(id, assetPrefix):
		kind = KindLibraryAsset
	case strings.HasPrefix(id, remotePrefix):
		kind = KindRemoteObject
	}
	r, ok := m[kind]
	if !ok {
		return nil, fmt.Errorf("no resolver for item %q", id)
	}
	return r.Resolve(ctx, id)
}
