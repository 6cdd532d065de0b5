package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// PutJSON encodes v and uploads it under key.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - store: destination storage.
//   - key: object key.
//   - v: value to encode.
//
// Returns:
//   - error: non-nil if encoding or upload fails.
func PutJSON(ctx context.Context, store ObjectStorage, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json")
}

// GetJSON downloads key and decodes it into v. A missing key yields ErrObjectNotFound.
func GetJSON(ctx context.Context, store ObjectStorage, key string, v any) error {
	body, err := store.Download(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}
