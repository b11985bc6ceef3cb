package catalog

import "path"

// Layout builds object keys for one user. The key shapes are shared with
// every other device of that user and must stay bit-exact.
type Layout struct {
	UserID string
}

func (l Layout) CatalogPrefix() string {
	return path.Join("catalogs", l.UserID) + "/"
}

func (l Layout) PointerKey() string {
	return l.CatalogPrefix() + "pointer"
}

func (l Layout) ManifestKey(identity string) string {
	return l.CatalogPrefix() + "manifest." + identity
}

func (l Layout) ShardKey(id int) string {
	return l.CatalogPrefix() + ShardFileName(id)
}

func (l Layout) PhotoKey(hash string) string {
	return path.Join("photos", l.UserID, hash+".dat")
}

func (l Layout) ThumbnailKey(hash string) string {
	return path.Join("thumbnails", l.UserID, hash+".jpg")
}

// ShardFileName is the file name of shard id, remote and local.
func ShardFileName(id int) string {
	return ShardHex(id) + ".csv"
}
