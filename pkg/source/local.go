package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Local reads payloads from the filesystem. MaxSize of zero means
// unlimited.
type Local struct {
	MaxSize int64
}

var _ Fetcher = &Local{}

func (l *Local) Fetch(ctx context.Context, location string) (data []byte, name string, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	info, err := os.Stat(location)
	if err != nil {
		return
	}
	if info.IsDir() {
		err = fmt.Errorf("%s is a directory", location)
		return
	}
	if l.MaxSize > 0 && info.Size() > l.MaxSize {
		err = fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, location, info.Size())
		return
	}
	data, err = os.ReadFile(filepath.Clean(location))
	if err != nil {
		return
	}
	name = filepath.Base(location)
	return
}
