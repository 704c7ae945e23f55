// Package stream reads line-delimited record containers, either plain
// JSONL or Zstandard-compressed (.zst). Decompression is streamed in
// fixed-size chunks so memory stays flat regardless of file size; the
// multi-gigabyte Reddit dump files never touch disk uncompressed.
package stream

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// maxLineBytes is the scanner's line budget. Reddit records are JSON on a
// single line; the largest observed selftext bodies are well under this.
const maxLineBytes = 16 << 20

// Reader yields the lines of a container one at a time. It is restartable
// only from the beginning of the file: callers that need to skip already
// consumed records count them back up (see engine/runner).
type Reader struct {
	f       *os.File
	zr      *zstd.Decoder
	scanner *bufio.Scanner
}

// Open opens a plain or .zst-compressed line container. Failure to open
// the file or to initialize the compressed framing is the only fatal
// condition at this layer; malformed individual lines are the caller's
// concern.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("stream: open %s: %w", path, err)
	}

	r := &Reader{f: f}
	var src io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("stream: zstd reader %s: %w", path, err)
		}
		r.zr = zr
		src = zr
	}

	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 64<<10), maxLineBytes)
	r.scanner = sc
	return r, nil
}

// Next advances to the next non-blank line. It returns false at end of
// stream or on a container-level read error (see Err).
func (r *Reader) Next() bool {
	for r.scanner.Scan() {
		if len(strings.TrimSpace(r.scanner.Text())) > 0 {
			return true
		}
	}
	return false
}

// Text returns the current line.
func (r *Reader) Text() string {
	return r.scanner.Text()
}

// Err returns the first container-level error hit while scanning, such as
// corrupt zstd framing. It is nil after a clean end of stream.
func (r *Reader) Err() error {
	if err := r.scanner.Err(); err != nil {
		return fmt.Errorf("stream: read: %w", err)
	}
	return nil
}

// Close releases the decompressor and the underlying file.
func (r *Reader) Close() error {
	if r.zr != nil {
		r.zr.Close()
	}
	return r.f.Close()
}
