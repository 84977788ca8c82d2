package automation

import (
	"encoding/base64"
	"os"
	"path/filepath"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// writeFile decodes base64 data and writes it to path. Path traversal and
// shell-metacharacter rejection already happened in models.Action.Validate;
// this is the second, independent check the daemon runs on its own side of
// the wire per spec.md §9's "duplication is deliberate" note.
func writeFile(a models.WriteFileAction) error {
	if err := validateFilePath(a.Path); err != nil {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return wrapError(KindInvalidPath, err, "write_file: data is not valid base64")
	}
	if err := os.MkdirAll(filepath.Dir(a.Path), 0o755); err != nil {
		return wrapError(KindIO, err, "write_file: create parent directory")
	}
	if err := os.WriteFile(a.Path, data, 0o644); err != nil {
		return wrapError(KindIO, err, "write_file: write %s", a.Path)
	}
	return nil
}

func readFile(a models.ReadFileAction) ([]byte, error) {
	if err := validateFilePath(a.Path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wrapError(KindInvalidPath, err, "read_file: %s does not exist", a.Path)
		}
		return nil, wrapError(KindIO, err, "read_file: read %s", a.Path)
	}
	return data, nil
}

func validateFilePath(path string) error {
	if path == "" || len(path) > 4096 {
		return newError(KindInvalidPath, "path is empty or too long")
	}
	if filepath.Clean(path) != path {
		return newError(KindInvalidPath, "path %q is not in canonical form", path)
	}
	return nil
}
