package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PartExt is appended to the output path while a download is in progress
const PartExt = ".part"

// PartPath returns the in-progress path for outputPath
func PartPath(outputPath string) string {
	return outputPath + PartExt
}

// OutputFromPart strips the part extension, accepting either form
func OutputFromPart(path string) string {
	return strings.TrimSuffix(path, PartExt)
}

// SafeFilename turns an upstream-provided name into a single path element
func SafeFilename(name string) string {
	name = strings.TrimSpace(filepath.Base(filepath.Clean("/" + name)))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return name
}

// EnsureDir creates the parent directory of path
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// FileExists reports whether path exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FileSize returns the size of path
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// CreatePartialFile creates or truncates partPath and sizes it to size
func CreatePartialFile(partPath string, size int64) (err error) {
	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create partial file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	if err := file.Truncate(size); err != nil {
		return fmt.Errorf("failed to allocate file space: %w", err)
	}
	return nil
}

// ValidatePartialFile checks that partPath is writable and not larger than
// expectedSize
func ValidatePartialFile(partPath string, expectedSize int64) error {
	info, err := os.Stat(partPath)
	if err != nil {
		return err
	}
	if info.Size() > expectedSize {
		return fmt.Errorf("partial file size (%d) exceeds expected size (%d)", info.Size(), expectedSize)
	}

	file, err := os.OpenFile(partPath, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("cannot access partial file: %w", err)
	}
	return file.Close()
}
