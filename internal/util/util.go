package util

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"strings"
)

func DirExists(path string) bool {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	return info.IsDir()
}

// ClearExistingFolder removes a directory tree if it exists so it can be
// recreated from scratch. A missing directory is not an error.
func ClearExistingFolder(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return os.RemoveAll(path)
}

// IsAlignmentFile reports whether name looks like a two-line fasta
// alignment file. Only the ".fas" extension is scanned.
func IsAlignmentFile(name string) bool {
	return strings.HasSuffix(name, ".fas")
}

// FileLinesToList returns the non-empty, whitespace-trimmed lines of a
// text file, in file order.
func FileLinesToList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
