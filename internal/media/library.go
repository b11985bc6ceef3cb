package media

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Library is the host device photo library. Only the calls the catalog
// needs are modelled.
type Library interface {
	AssetSize(ctx context.Context, assetID string) (int64, error)
	AssetName(ctx context.Context, assetID string) (string, error)
	OpenAsset(ctx context.Context, assetID string) (io.ReadCloser, error)
	AssetThumbnail(ctx context.Context, assetID string) ([]byte, error)
}

const assetPrefix = "asset:"

// LibraryAsset is a photo in the device library. The asset identifier
// doubles as the catalog SourceID, letting the coordinator skip hashing
// assets it has already seen.
type LibraryAsset struct {
	lib     Library
	assetID string
	name    string
	size    int64
}

func NewLibraryAsset(ctx context.Context, lib Library, assetID string) (*LibraryAsset, error) {
	size, err := lib.AssetSize(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("asset %s size: %w", assetID, err)
	}
	name, err := lib.AssetName(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("asset %s name: %w", assetID, err)
	}
	return &LibraryAsset{lib: lib, assetID: assetID, name: name, size: size}, nil
}

func (a *LibraryAsset) ID() string          { return assetPrefix + a.assetID }
func (a *LibraryAsset) DisplayName() string { return a.name }
func (a *LibraryAsset) Kind() Kind          { return KindLibraryAsset }
func (a *LibraryAsset) SourceID() string    { return a.assetID }
func (a *LibraryAsset) Size() int64         { return a.size }

func (a *LibraryAsset) Open(ctx context.Context) (io.ReadCloser, error) {
	return a.lib.OpenAsset(ctx, a.assetID)
}

func (a *LibraryAsset) Thumbnail(ctx context.Context) ([]byte, error) {
	return a.lib.AssetThumbnail(ctx, a.assetID)
}

// LibraryResolver resolves "asset:" IDs against lib.
type LibraryResolver struct {
	Library Library
}

func (r LibraryResolver) Resolve(ctx context.Context, id string) (Item, error) {
	assetID, ok := strings.CutPrefix(id, assetPrefix)
	if !ok {
		return nil, fmt.Errorf("not a library asset id: %q", id)
	}
	return NewLibraryAsset(ctx, r.Library, assetID)
}
