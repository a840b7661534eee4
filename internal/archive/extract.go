package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/zip"
)

const (
	// MaxFileBytes is the largest single file kept in the file set.
	MaxFileBytes = 20 << 20
	// MaxTotalBytes bounds the cumulative size of the file set.
	MaxTotalBytes = 40 << 20

	// ManifestName is the package manifest looked up at the repository root.
	ManifestName = "package.json"
)

// ErrExtractFailed indicates the archive itself could not be read.
var ErrExtractFailed = errors.New("archive extraction failed")

// ExtractError wraps the underlying archive reader failure.
type ExtractError struct {
	Err error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("archive could not be extracted: %v", e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// Is reports ErrExtractFailed equivalence.
func (e *ExtractError) Is(target error) bool {
	return target == ErrExtractFailed
}

var deniedExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".webp": {}, ".ico": {},
	".mp4": {}, ".avi": {}, ".mov": {}, ".webm": {},
	".mp3": {}, ".wav": {}, ".ogg": {}, ".flac": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".tgz": {}, ".bz2": {}, ".xz": {}, ".7z": {}, ".rar": {},
}

// Stats counts why entries were left out of the file set.
type Stats struct {
	Entries        int
	Accepted       int
	AcceptedBytes  int64
	Directories    int
	Denylisted     int
	Undecodable    int
	Oversized      int
	Unsafe         int
	BudgetExceeded bool
}

// Skipped returns the number of file entries that were not kept.
func (s Stats) Skipped() int {
	return s.Denylisted + s.Undecodable + s.Oversized + s.Unsafe
}

// Result is the extracted file set. HasManifest reports whether the manifest is in Files;
// ManifestSkipped is set when the archive had one that a size or content rule dropped.
type Result struct {
	Files           map[string]string
	HasManifest     bool
	ManifestSkipped bool
	Stats           Stats
}

// Extract reads a repository snapshot archive into an in-memory text file set keyed by
// path relative to the repository root.
func Extract(data []byte) (Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, &ExtractError{Err: err}
	}

	res := Result{Files: make(map[string]string)}
	root := rootSegment(zr.File)
	sawManifest := false

	for _, f := range zr.File {
		res.Stats.Entries++

		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			res.Stats.Directories++
			continue
		}

		rel := stripRoot(f.Name, root)
		if rel == "" || unsafePath(rel) {
			res.Stats.Unsafe++
			continue
		}
		if rel == ManifestName {
			sawManifest = true
		}

		if _, denied := deniedExtensions[strings.ToLower(path.Ext(rel))]; denied {
			res.Stats.Denylisted++
			continue
		}

		content, truncated, err := readEntry(f)
		if err != nil || !decodable(content, truncated) {
			res.Stats.Undecodable++
			continue
		}
		if truncated {
			res.Stats.Oversized++
			continue
		}

		size := int64(len(content))
		if res.Stats.AcceptedBytes+size > MaxTotalBytes {
			res.Stats.BudgetExceeded = true
			break
		}

		res.Files[rel] = string(content)
		res.Stats.Accepted++
		res.Stats.AcceptedBytes += size
	}

	_, res.HasManifest = res.Files[ManifestName]
	res.ManifestSkipped = sawManifest && !res.HasManifest
	return res, nil
}

func rootSegment(files []*zip.File) string {
	if len(files) == 0 {
		return ""
	}
	first := strings.TrimPrefix(files[0].Name, "/")
	if i := strings.Index(first, "/"); i > 0 {
		return first[:i+1]
	}
	return ""
}

func stripRoot(name, root string) string {
	name = strings.TrimPrefix(name, "/")
	if root != "" {
		name = strings.TrimPrefix(name, root)
	}
	return name
}

func unsafePath(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return true
		}
	}
	return strings.Contains(rel, "\\")
}

func readEntry(f *zip.File) ([]byte, bool, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, false, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxFileBytes+1))
	if err != nil {
		return nil, false, err
	}
	if len(data) > MaxFileBytes {
		return data[:MaxFileBytes], true, nil
	}
	return data, false, nil
}

// decodable reports whether data is UTF-8 text. A truncated read may end inside a
// multi-byte sequence, so up to UTFMax-1 trailing bytes are allowed to be incomplete.
func decodable(data []byte, truncated bool) bool {
	if utf8.Valid(data) {
		return true
	}
	if !truncated {
		return false
	}
	for i := 1; i < utf8.UTFMax && i <= len(data); i++ {
		if utf8.Valid(data[:len(data)-i]) {
			return true
		}
	}
	return false
}
