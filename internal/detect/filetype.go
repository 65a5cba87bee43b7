package detect

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileType is the structural family of an uploaded statement file.
type FileType string

const (
	FileTypeDelimited   FileType = "csv"
	FileTypeInterchange FileType = "ofx"
)

// HeaderSize is the number of leading bytes inspected by content sniffing.
const HeaderSize = 1024

var ofxMarkers = [][]byte{[]byte("OFXHEADER"), []byte("<?OFX"), []byte("<OFX>")}

// Basis records which rule decided a file type.
type Basis string

const (
	BasisExtension Basis = "extension"
	BasisMarker    Basis = "interchange-marker"
	BasisDelimited Basis = "delimited-heuristic"
	BasisFallback  Basis = "fallback"
)

// Detection is a file type together with the rule that chose it.
type Detection struct {
	Type  FileType
	Basis Basis
}

// DetectFileType decides between delimited and interchange input.
// The extension is trusted first (.csv, .ofx, .qfx); otherwise the first
// HeaderSize bytes of content are inspected. Anything undecided is delimited.
func DetectFileType(name string, header []byte) FileType {
	return Classify(name, header).Type
}

// Classify is DetectFileType reporting its basis. Content with neither an
// interchange marker nor a multi-column first line falls back to delimited
// with BasisFallback.
func Classify(name string, header []byte) Detection {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return Detection{FileTypeDelimited, BasisExtension}
	case ".ofx", ".qfx":
		return Detection{FileTypeInterchange, BasisExtension}
	}

	if len(header) > HeaderSize {
		header = header[:HeaderSize]
	}
	upper := bytes.ToUpper(header)
	for _, marker := range ofxMarkers {
		if bytes.Contains(upper, marker) {
			return Detection{FileTypeInterchange, BasisMarker}
		}
	}

	if LooksDelimited(header) {
		return Detection{FileTypeDelimited, BasisDelimited}
	}
	return Detection{FileTypeDelimited, BasisFallback}
}

// LooksDelimited reports whether the first line of header has more than one
// comma-separated column.
func LooksDelimited(header []byte) bool {
	first, _, _ := bytes.Cut(header, []byte("\n"))
	return bytes.Contains(first, []byte(","))
}

// SniffFile reads the leading bytes of path and classifies it.
// Files shorter than HeaderSize are fine; whatever was read is inspected.
func SniffFile(path string) (FileType, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("failed to read header from %s: %w", path, err)
	}
	return DetectFileType(path, header[:n]), nil
}
