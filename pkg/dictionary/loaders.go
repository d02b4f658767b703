package dictionary

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/navikt/bq-remote-functions/pkg/cs"
)

type FileLoader struct {
	path string
}

var _ Loader = &FileLoader{}

func (l *FileLoader) Version(_ context.Context) (string, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", l.path, err)
	}

	return fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size()), nil
}

func (l *FileLoader) Load(ctx context.Context) (*Snapshot, error) {
	version, err := l.Version(ctx)
	if err != nil {
		return nil, err
	}

	format, err := FormatFor(l.path, "")
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", l.path, err)
	}

	entries, err := Parse(format, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.path, err)
	}

	return &Snapshot{
		Entries: entries,
		Version: version,
	}, nil
}

func NewFileLoader(path string) *FileLoader {
	return &FileLoader{
		path: path,
	}
}

// GCSLoader loads a dictionary object. The object generation is the version.
type GCSLoader struct {
	ops    cs.Operations
	object string
}

var _ Loader = &GCSLoader{}

func (l *GCSLoader) Version(ctx context.Context) (string, error) {
	obj, err := l.ops.GetObjectAttributes(ctx, l.object)
	if err != nil {
		return "", fmt.Errorf("getting attributes of %s: %w", l.object, err)
	}

	return strconv.FormatInt(obj.Attrs.Generation, 10), nil
}

func (l *GCSLoader) Load(ctx context.Context) (*Snapshot, error) {
	obj, err := l.ops.GetObjectWithData(ctx, l.object)
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", l.object, err)
	}

	format, err := FormatFor(obj.Name, obj.Attrs.ContentType)
	if err != nil {
		return nil, err
	}

	entries, err := Parse(format, obj.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.object, err)
	}

	return &Snapshot{
		Entries: entries,
		Version: strconv.FormatInt(obj.Attrs.Generation, 10),
	}, nil
}

func NewGCSLoader(ops cs.Operations, object string) *GCSLoader {
	return &GCSLoader{
		ops:    ops,
		object: object,
	}
}
