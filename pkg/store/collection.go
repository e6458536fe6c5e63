package store

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// Collection is a typed view over one KV bucket with JSON-encoded values.
type Collection[T any] struct {
	kv     KV
	bucket string
}

func NewCollection[T any](kv KV, bucket string) *Collection[T] {
	return &Collection[T]{kv: kv, bucket: bucket}
}

func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var v T
	raw, err := c.kv.Get(ctx, c.bucket, id)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s/%s: %w", c.bucket, id, err)
	}
	return v, nil
}

func (c *Collection[T]) Put(ctx context.Context, id string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", c.bucket, id, err)
	}
	return c.kv.Put(ctx, c.bucket, id, raw)
}

func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.kv.Delete(ctx, c.bucket, id)
}

func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	raws, err := c.kv.List(ctx, c.bucket)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s entry: %w", c.bucket, err)
		}
		out = append(out, v)
	}
	return out, nil
}
