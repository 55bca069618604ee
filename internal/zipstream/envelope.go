package zipstream

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

type UnsupportedEncodingError struct {
	Encoding string
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("zipstream: unsupported transport encoding %q", e.Encoding)
}

// OpenEnvelope removes the transport compression named by a Content-Encoding
// value. Without an encoding the payload is gzip unless it already starts
// with a local file header.
func OpenEnvelope(encoding string, r io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "":
		br := bufio.NewReader(r)
		head, _ := br.Peek(4)
		if len(head) == 4 && binary.LittleEndian.Uint32(head) == localHeaderSignature {
			return io.NopCloser(br), nil
		}
		return OpenEnvelope("gzip", br)
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zipstream: open gzip envelope: %w", err)
		}
		return gz, nil
	case "br":
		return io.NopCloser(brotli.NewReader(r)), nil
	case "deflate":
		return openDeflate(r)
	case "identity":
		return io.NopCloser(r), nil
	default:
		return nil, &UnsupportedEncodingError{Encoding: encoding}
	}
}

// openDeflate handles both zlib wrapped deflate (what the standard asks for)
// and raw deflate (what some servers send anyway).
func openDeflate(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("zipstream: open deflate envelope: %w", err)
	}
	if len(head) == 2 && head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zipstream: open deflate envelope: %w", err)
		}
		return zr, nil
	}
	return flate.NewReader(br), nil
}

// Decode removes the transport envelope of `payload` and returns every entry
// of the container in the order they are stored. If any entry fails to decode
// no entries are returned.
func Decode(ctx context.Context, encoding string, payload io.Reader) ([]Entry, error) {
	body, err := OpenEnvelope(encoding, payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	reader := NewReader(body)
	entries := []Entry{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}
