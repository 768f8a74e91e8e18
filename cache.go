package wasmcore

import (
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kpio-os/wasmcore/wasm"
)

// moduleCache memoizes decoded and validated modules by a content hash of
// the raw binary, so repeated CompileModule calls over the same bytes skip
// the parser. Modules are immutable, making sharing safe.
type moduleCache struct {
	entries *lru.Cache[uint64, *wasm.Module]
}

func newModuleCache(size int) (*moduleCache, error) {
	entries, err := lru.New[uint64, *wasm.Module](size)
	if err != nil {
		return nil, err
	}
	return &moduleCache{entries: entries}, nil
}

func cacheKey(bin []byte) uint64 {
	return xxhash.Sum64(bin)
}

func (c *moduleCache) get(key uint64) (*wasm.Module, bool) {
	return c.entries.Get(key)
}

func (c *moduleCache) add(key uint64, m *wasm.Module) {
	c.entries.Add(key, m)
}

// Len reports how many modules are cached.
func (c *moduleCache) Len() int {
	return c.entries.Len()
}
