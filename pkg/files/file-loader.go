package files

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileData is the content of a file read from the content root.
type FileData struct {
	Data []byte
	Size int
}

// Loader reads files. A missing file is reported as (nil, false, nil) so
// callers can tell absence apart from an empty file or a read failure.
type Loader interface {
	Load(path string) (*FileData, bool, error)
}

type DiskLoader struct{}

func NewDiskLoader() *DiskLoader {
	return &DiskLoader{}
}

func (DiskLoader) Load(filePath string) (*FileData, bool, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) || errors.Is(err, iofs.ErrPermission) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stat %s: %w", filePath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, false, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", filePath, err)
	}

	return &FileData{Data: data, Size: len(data)}, true, nil
}

// Resolve maps a request path onto a filesystem path under root. The query
// string is dropped, a trailing slash selects indexFile, and the result can
// never climb above root.
func Resolve(root, requestPath, indexFile string) string {
	if i := strings.IndexByte(requestPath, '?'); i >= 0 {
		requestPath = requestPath[:i]
	}
	if strings.HasSuffix(requestPath, "/") && indexFile != "" {
		requestPath += indexFile
	}

	cleaned := path.Clean("/" + requestPath)
	return filepath.Join(root, filepath.FromSlash(cleaned))
}
