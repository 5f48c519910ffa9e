package supervisor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// App log file constants.
const (
	// logFileMode leaves app logs group-readable for operators.
	logFileMode = 0644

	// tailChunkSize is how much of the file is read per step when
	// scanning backwards for the last N lines.
	tailChunkSize = 64 * 1024
)

// logPaths returns the stdout and stderr log file paths for an app.
func logPaths(logDir, id string) (stdout, stderr string) {
	stdout = filepath.Join(logDir, id+".stdout.log")
	stderr = filepath.Join(logDir, id+".stderr.log")
	return stdout, stderr
}

// openAppLog opens a log file for appending, creating it if needed, and
// writes a timestamped banner so runs are visually separated when the
// file accumulates output across many starts.
func openAppLog(path string, now time.Time) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFileMode)
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(f, "\n==== %s starting ====\n", now.UTC().Format(time.RFC3339)); err != nil {
		f.Close() //nolint:errcheck // Open failed midway, nothing to preserve
		return nil, err
	}
	return f, nil
}

// tailFile returns up to n trailing lines of a file.
//
// The file is read backwards in chunks, so tailing a large log does not
// load the whole file into memory. Returns os.ErrNotExist (wrapped) if
// the file has not been created yet.
func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := info.Size()
	if size == 0 || n <= 0 {
		return []string{}, nil
	}

	var buf []byte
	offset := size
	for offset > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		readSize := int64(tailChunkSize)
		if offset < readSize {
			readSize = offset
		}
		offset -= readSize

		chunk := make([]byte, readSize)
		if _, err := f.ReadAt(chunk, offset); err != nil {
			return nil, err
		}
		buf = append(chunk, buf...)
	}

	text := strings.TrimRight(string(buf), "\n")
	if text == "" {
		return []string{}, nil
	}

	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
