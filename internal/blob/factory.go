package blob

import (
	"context"
	"fmt"
)

// Config selects and parameterizes a Store implementation.
type Config struct {
	Driver Driver
	Root   string // directory root when Driver is fs (default ./blobdata)
	S3     S3Config
}

// Open builds the Store named by cfg.Driver; an empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		root := cfg.Root
		if root == "" {
			root = "./blobdata"
		}
		return NewFilesystem(root)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("blob: unknown driver %q", driver)
	}
}
