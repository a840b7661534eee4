package archive

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
)

type entry struct {
	name string
	body []byte
}

func buildZip(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("create %s: %v", e.name, err)
		}
		if e.body != nil {
			if _, err := w.Write(e.body); err != nil {
				t.Fatalf("write %s: %v", e.name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestExtractStripsRootAndKeepsText(t *testing.T) {
	data := buildZip(t,
		entry{name: "acme-site-1a2b3c/"},
		entry{name: "acme-site-1a2b3c/index.html", body: []byte("<h1>hi</h1>")},
		entry{name: "acme-site-1a2b3c/src/"},
		entry{name: "acme-site-1a2b3c/src/app.js", body: []byte("console.log('héllo')")},
	)

	res, err := Extract(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Files) != 2 {
		t.Fatalf("expected 2 files, got %v", res.Files)
	}
	if res.Files["index.html"] != "<h1>hi</h1>" {
		t.Fatalf("unexpected index.html %q", res.Files["index.html"])
	}
	if _, ok := res.Files["src/app.js"]; !ok {
		t.Fatalf("expected src/app.js, got keys %v", res.Files)
	}
	if res.Stats.Directories != 2 {
		t.Fatalf("expected 2 directories, got %d", res.Stats.Directories)
	}
	if res.HasManifest {
		t.Fatal("expected no manifest")
	}
}

func TestExtractSkipsDeniedAndBinary(t *testing.T) {
	data := buildZip(t,
		entry{name: "root/"},
		entry{name: "root/package.json", body: []byte(`{"name":"x"}`)},
		entry{name: "root/logo.PNG", body: []byte("not really a png")},
		entry{name: "root/clip.mp4", body: []byte("video")},
		entry{name: "root/blob.bin", body: []byte{0xff, 0xfe, 0x00, 0x81}},
	)

	res, err := Extract(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.HasManifest {
		t.Fatal("expected manifest to be detected")
	}
	if len(res.Files) != 1 {
		t.Fatalf("expected only package.json, got %v", res.Files)
	}
	if res.Stats.Denylisted != 2 || res.Stats.Undecodable != 1 {
		t.Fatalf("unexpected stats %+v", res.Stats)
	}
	if res.Stats.Skipped() != 3 {
		t.Fatalf("expected 3 skipped, got %d", res.Stats.Skipped())
	}
}

func TestExtractManifestMustSurviveFilters(t *testing.T) {
	data := buildZip(t,
		entry{name: "root/"},
		entry{name: "root/package.json", body: []byte{'{', 0xff, 0xfe, '}'}},
		entry{name: "root/index.html", body: []byte("x")},
	)

	res, err := Extract(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HasManifest {
		t.Fatal("expected dropped manifest not to be reported as present")
	}
	if !res.ManifestSkipped {
		t.Fatal("expected manifest to be reported as skipped")
	}
	if _, ok := res.Files["package.json"]; ok {
		t.Fatal("expected undecodable manifest to be excluded")
	}
}

func TestExtractPerFileCap(t *testing.T) {
	data := buildZip(t,
		entry{name: "root/"},
		entry{name: "root/big.txt", body: bytes.Repeat([]byte("a"), 25<<20)},
		entry{name: "root/small.txt", body: bytes.Repeat([]byte("b"), 1<<10)},
	)

	res, err := Extract(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := res.Files["big.txt"]; ok {
		t.Fatal("expected 25 MiB file to be excluded")
	}
	if len(res.Files["small.txt"]) != 1<<10 {
		t.Fatal("expected 1 KiB file to be included")
	}
	if res.Stats.Oversized != 1 {
		t.Fatalf("expected 1 oversized, got %+v", res.Stats)
	}
}

func TestExtractTotalBudgetStopsInclusion(t *testing.T) {
	chunk := bytes.Repeat([]byte("c"), 15<<20)
	data := buildZip(t,
		entry{name: "root/"},
		entry{name: "root/a.txt", body: chunk},
		entry{name: "root/b.txt", body: chunk},
		entry{name: "root/c.txt", body: chunk},
		entry{name: "root/d.txt", body: []byte("tiny")},
	)

	res, err := Extract(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Stats.BudgetExceeded {
		t.Fatal("expected budget to be exceeded")
	}
	if res.Stats.AcceptedBytes > MaxTotalBytes {
		t.Fatalf("accepted %d bytes, above budget", res.Stats.AcceptedBytes)
	}
	if len(res.Files) != 2 {
		t.Fatalf("expected inclusion to stop after 2 files, got %d", len(res.Files))
	}
	if _, ok := res.Files["d.txt"]; ok {
		t.Fatal("expected entries after the budget stop to be omitted")
	}
}

func TestExtractMalformedArchive(t *testing.T) {
	_, err := Extract([]byte("definitely not a zip"))
	if !errors.Is(err, ErrExtractFailed) {
		t.Fatalf("expected ErrExtractFailed, got %v", err)
	}
	var ee *ExtractError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *ExtractError, got %T", err)
	}
}

func TestExtractSkipsTraversal(t *testing.T) {
	data := buildZip(t,
		entry{name: "root/"},
		entry{name: "root/../escape.txt", body: []byte("x")},
		entry{name: "root/ok.txt", body: []byte("y")},
	)

	res, err := Extract(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stats.Unsafe != 1 || len(res.Files) != 1 {
		t.Fatalf("unexpected result %+v files=%v", res.Stats, res.Files)
	}
}

func TestDecodableTruncatedRune(t *testing.T) {
	text := []byte(strings.Repeat("é", 4))
	cut := text[:len(text)-1]
	if decodable(cut, false) {
		t.Fatal("expected incomplete rune to be invalid when not truncated")
	}
	if !decodable(cut, true) {
		t.Fatal("expected incomplete trailing rune to be tolerated when truncated")
	}
}
