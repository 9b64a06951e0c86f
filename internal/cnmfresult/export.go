package cnmfresult

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sawpanic/cnmfsns/internal/blob"
)

// StagingSuffix separates a key from the random tag of its staging copy.
const StagingSuffix = ".staging-"

// ExportReceipt proves a container was durably stored. It can only be
// obtained from a successful Export and is the sole input DeleteSource
// accepts.
type ExportReceipt struct {
	key    string
	etag   string
	size   int64
	source string
}

// Key returns the blob key the container was stored under.
func (r ExportReceipt) Key() string { return r.key }

// Size returns the stored size in bytes.
func (r ExportReceipt) Size() int64 { return r.size }

// Source returns the result directory the container was parsed from.
func (r ExportReceipt) Source() string { return r.source }

// IsZero reports whether r came from no export.
func (r ExportReceipt) IsZero() bool { return r.key == "" }

// Export encodes c and stores it under key. An existing artifact at key is
// replaced after a warning: the new container is first stored under a
// staging key, and the old one is deleted only once that put succeeded. If
// the final put fails the staging copy is kept and named in the error.
func Export(ctx context.Context, store blob.Store, key string, c *Container, logger zerolog.Logger) (ExportReceipt, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, c); err != nil {
		return ExportReceipt{}, err
	}
	data := buf.Bytes()
	size := int64(len(data))
	opts := blob.PutOptions{
		ContentType: ContentType,
		Metadata:    map[string]string{"dataset": c.Name},
	}

	var info blob.Info
	_, err := store.Head(ctx, key)
	switch {
	case err == nil:
		logger.Warn().Str("key", key).Msg("overwriting existing container")
		info, err = replace(ctx, store, key, data, opts, logger)
	case errors.Is(err, blob.ErrNotFound):
		info, err = putSized(ctx, store, key, data, opts)
	default:
		err = fmt.Errorf("check %s: %w", key, err)
	}
	if err != nil {
		return ExportReceipt{}, err
	}

	logger.Info().
		Str("dataset", c.Name).
		Str("key", key).
		Str("driver", string(store.Driver())).
		Int64("bytes", size).
		Msg("exported container")
	return ExportReceipt{key: key, etag: info.ETag, size: size, source: c.Source}, nil
}

// replace swaps the artifact at key for data. Store puts are create-only,
// so data is staged under a sibling key before the old artifact goes.
func replace(ctx context.Context, store blob.Store, key string, data []byte, opts blob.PutOptions, logger zerolog.Logger) (blob.Info, error) {
	staging := key + StagingSuffix + uuid.NewString()
	if _, err := putSized(ctx, store, staging, data, opts); err != nil {
		store.Delete(ctx, staging)
		return blob.Info{}, err
	}
	if _, err := store.Delete(ctx, key); err != nil {
		store.Delete(ctx, staging)
		return blob.Info{}, fmt.Errorf("replace %s: %w", key, err)
	}
	info, err := putSized(ctx, store, key, data, opts)
	if err != nil {
		return blob.Info{}, fmt.Errorf("%w; new container kept at %s", err, staging)
	}
	if _, err := store.Delete(ctx, staging); err != nil {
		logger.Warn().Err(err).Str("key", staging).Msg("staging container left behind")
	}
	return info, nil
}

func putSized(ctx context.Context, store blob.Store, key string, data []byte, opts blob.PutOptions) (blob.Info, error) {
	info, err := store.Put(ctx, key, bytes.NewReader(data), opts)
	if err != nil {
		return blob.Info{}, fmt.Errorf("store %s: %w", key, err)
	}
	if info.Size != int64(len(data)) {
		return blob.Info{}, fmt.Errorf("store %s: wrote %d bytes, want %d", key, info.Size, len(data))
	}
	return info, nil
}

// Open reads the container stored under key.
func Open(ctx context.Context, store blob.Store, key string) (*Container, error) {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	c, err := Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return c, nil
}

// DeleteSource removes the result directory a receipt was exported from.
// The stored artifact is re-checked first; this step is irreversible.
func DeleteSource(ctx context.Context, store blob.Store, receipt ExportReceipt, logger zerolog.Logger) error {
	if receipt.IsZero() {
		return ErrNoReceipt
	}
	if receipt.source == "" {
		return fmt.Errorf("receipt for %s has no source directory", receipt.key)
	}

	info, err := store.Head(ctx, receipt.key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExportNotDurable, err)
	}
	if info.Size != receipt.size || info.ETag != receipt.etag {
		return fmt.Errorf("%w: %s has size %d etag %q, receipt has %d %q",
			ErrExportNotDurable, receipt.key, info.Size, info.ETag, receipt.size, receipt.etag)
	}

	st, err := os.Stat(receipt.source)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("source %s is not a directory", receipt.source)
	}
	if err := os.RemoveAll(receipt.source); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	logger.Warn().Str("dir", receipt.source).Str("key", receipt.key).Msg("deleted cNMF result directory")
	return nil
}
