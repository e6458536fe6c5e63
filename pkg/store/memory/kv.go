package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/store"
)

// KV is a process-local document store.
type KV struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

var _ store.KV = (*KV)(nil)

func NewKV() *KV {
	return &KV{buckets: make(map[string]map[string][]byte)}
}

func (kv *KV) Get(_ context.Context, bucket, key string) ([]byte, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	v, ok := kv.buckets[bucket][key]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "%s %q not found", bucket, key)
	}
	return slices.Clone(v), nil
}

func (kv *KV) Put(_ context.Context, bucket, key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	b, ok := kv.buckets[bucket]
	if !ok {
		b = make(map[string][]byte)
		kv.buckets[bucket] = b
	}
	b[key] = slices.Clone(value)
	return nil
}

func (kv *KV) Delete(_ context.Context, bucket, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if _, ok := kv.buckets[bucket][key]; !ok {
		return errkind.New(errkind.NotFound, "%s %q not found", bucket, key)
	}
	delete(kv.buckets[bucket], key)
	return nil
}

func (kv *KV) List(_ context.Context, bucket string) ([][]byte, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	b := kv.buckets[bucket]
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		out = append(out, slices.Clone(b[k]))
	}
	return out, nil
}
