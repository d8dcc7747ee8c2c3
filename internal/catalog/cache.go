package catalog

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/singer-io/tap-zuora/internal/zuora"
)

// defaultCacheSize comfortably covers every object type a single Zuora
// tenant exposes (a few hundred at most) without unbounded growth across
// a long discovery run.
const defaultCacheSize = 512

// Discoverer memoizes per-object field dictionaries for the lifetime of
// one discovery run: describe() is a relatively expensive XML round trip,
// so a repeated Describe call for the same name is served from the cache.
// The related-objects walk in DescribeObject does not describe the
// related objects; it only adds their "<Related>.Id" fields.
type Discoverer struct {
	client  *zuora.Client
	apiType string
	cache   *lru.Cache[string, *Object]
}

func NewDiscoverer(client *zuora.Client, apiType string) (*Discoverer, error) {
	cache, err := lru.New[string, *Object](defaultCacheSize)
	if err != nil {
		return nil, err
	}
	return &Discoverer{client: client, apiType: apiType, cache: cache}, nil
}

// Describe returns the cached Object for name if this run has already
// described it, otherwise fetches, caches, and returns it.
func (d *Discoverer) Describe(ctx context.Context, name string) (*Object, error) {
	if obj, ok := d.cache.Get(name); ok {
		return obj, nil
	}
	obj, err := DescribeObject(ctx, d.client, d.apiType, name)
	if err != nil {
		return nil, err
	}
	d.cache.Add(name, obj)
	return obj, nil
}
