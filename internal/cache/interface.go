package cache

// BlobCache holds recently served file contents keyed by entry id.
type BlobCache interface {
	Get(id string) ([]byte, bool)
	Set(id string, value []byte)
	Has(id string) bool // Check presence without touching recency
	Delete(id string)
	Clear()
}
