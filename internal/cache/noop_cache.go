package cache

type NoopBlobCache struct{}

func NewNoopBlobCache() *NoopBlobCache {
	return &NoopBlobCache{}
}

func (c *NoopBlobCache) Get(id string) ([]byte, bool) {
	return nil, false
}

func (c *NoopBlobCache) Set(id string, value []byte) {
}

func (c *NoopBlobCache) Has(id string) bool {
	return false
}

func (c *NoopBlobCache) Delete(id string) {
}

func (c *NoopBlobCache) Clear() {
}
