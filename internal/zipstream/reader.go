// Package zipstream extracts the files of a zip container by walking its local
// entry headers front to back. It never seeks and never reads the central
// directory, so it can decode an archive while it is still being downloaded.
package zipstream

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
)

const (
	localHeaderSignature    uint32 = 0x04034b50
	dataDescriptorSignature uint32 = 0x08074b50

	// length of a local header after its signature
	localHeaderLen = 26

	flagDataDescriptor uint16 = 0x8

	// upper bound on how much is preallocated from a declared size
	maxPreallocate = 64 << 20
)

// MethodDeflate is the only compression method entries may use.
const MethodDeflate uint16 = 8

// Header holds the fields of a local entry header that are kept. The sizes are
// the declared ones and are only used as hints.
type Header struct {
	FileName          string
	Flags             uint16
	CompressionMethod uint16
	CompressedSize    uint32
	UncompressedSize  uint32
}

type Entry struct {
	Header
	Content []byte
}

type UnsupportedCompressionError struct {
	Method   uint16
	FileName string
}

func (e *UnsupportedCompressionError) Error() string {
	return fmt.Sprintf("zipstream: unsupported compression method %d in entry %q", e.Method, e.FileName)
}

// Reader iterates over the entries of a zip container.
type Reader struct {
	r    *bufio.Reader
	done bool
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next entry of the container. It returns io.EOF once the
// stream ends or anything other than a local header follows, which is what
// happens when the central directory is reached.
func (z *Reader) Next() (*Entry, error) {
	if z.done {
		return nil, io.EOF
	}

	var sig [4]byte
	_, err := io.ReadFull(z.r, sig[:])
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		z.done = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("zipstream: read signature: %w", err)
	}
	if binary.LittleEndian.Uint32(sig[:]) != localHeaderSignature {
		z.done = true
		return nil, io.EOF
	}

	header, err := z.readHeader()
	if err != nil {
		return nil, err
	}

	if header.CompressionMethod != MethodDeflate {
		return nil, &UnsupportedCompressionError{
			Method:   header.CompressionMethod,
			FileName: header.FileName,
		}
	}

	var content []byte
	if header.Flags&flagDataDescriptor != 0 && header.CompressedSize == 0 {
		content, err = inflate(z.r, header.UncompressedSize)
	} else {
		content, err = z.readSized(header)
	}
	if err != nil {
		return nil, fmt.Errorf("zipstream: entry %q: %w", header.FileName, err)
	}

	if header.Flags&flagDataDescriptor != 0 {
		err = z.skipDataDescriptor(&header)
		if err != nil {
			return nil, fmt.Errorf("zipstream: entry %q: %w", header.FileName, err)
		}
	}

	return &Entry{Header: header, Content: content}, nil
}

func (z *Reader) readHeader() (Header, error) {
	var buf [localHeaderLen]byte
	_, err := io.ReadFull(z.r, buf[:])
	if err != nil {
		return Header{}, fmt.Errorf("zipstream: read local header: %w", noEOF(err))
	}

	le := binary.LittleEndian
	// 0:2 version needed, 6:10 modification time and date, 10:14 crc32
	header := Header{
		Flags:             le.Uint16(buf[2:4]),
		CompressionMethod: le.Uint16(buf[4:6]),
		CompressedSize:    le.Uint32(buf[14:18]),
		UncompressedSize:  le.Uint32(buf[18:22]),
	}
	nameLen := int(le.Uint16(buf[22:24]))
	extraLen := int64(le.Uint16(buf[24:26]))

	name := make([]byte, nameLen)
	_, err = io.ReadFull(z.r, name)
	if err != nil {
		return Header{}, fmt.Errorf("zipstream: read file name: %w", noEOF(err))
	}
	header.FileName = strings.ToValidUTF8(string(name), "\uFFFD")

	_, err = io.CopyN(io.Discard, z.r, extraLen)
	if err != nil {
		return Header{}, fmt.Errorf("zipstream: skip extra field of %q: %w", header.FileName, noEOF(err))
	}

	return header, nil
}

// readSized consumes exactly CompressedSize bytes and inflates them.
func (z *Reader) readSized(header Header) ([]byte, error) {
	payload := &io.LimitedReader{R: z.r, N: int64(header.CompressedSize)}
	content, err := inflate(payload, header.UncompressedSize)
	if err != nil {
		return nil, err
	}
	_, err = io.Copy(io.Discard, payload)
	if err != nil {
		return nil, err
	}
	if payload.N > 0 {
		return nil, fmt.Errorf("payload truncated: %w", io.ErrUnexpectedEOF)
	}
	return content, nil
}

// skipDataDescriptor reads the crc32 and sizes that trail the payload of a
// streamed entry. The descriptor signature is optional.
func (z *Reader) skipDataDescriptor(header *Header) error {
	var buf [16]byte
	_, err := io.ReadFull(z.r, buf[:12])
	if err != nil {
		return fmt.Errorf("read data descriptor: %w", noEOF(err))
	}
	fields := buf[:12]
	if binary.LittleEndian.Uint32(buf[:4]) == dataDescriptorSignature {
		_, err = io.ReadFull(z.r, buf[12:16])
		if err != nil {
			return fmt.Errorf("read data descriptor: %w", noEOF(err))
		}
		fields = buf[4:16]
	}
	header.CompressedSize = binary.LittleEndian.Uint32(fields[4:8])
	header.UncompressedSize = binary.LittleEndian.Uint32(fields[8:12])
	return nil
}

func inflate(r io.Reader, sizeHint uint32) ([]byte, error) {
	fr := flate.NewReader(r)
	defer fr.Close()

	buf := bytes.NewBuffer(make([]byte, 0, min(int(sizeHint), maxPreallocate)))
	_, err := buf.ReadFrom(fr)
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	return buf.Bytes(), nil
}

func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
