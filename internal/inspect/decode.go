package inspect

import (
	"bufio"
	"bytes"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"strconv"
	"strings"
)

// yencReader decodes a yEnc-encoded article body. It strips the
// =ybegin/=ypart headers, undoes the +42 shift and '=' escaping, and
// records the part CRC from the =yend trailer for Verify.
type yencReader struct {
	r           *bufio.Reader
	reachedEnd  bool
	escaped     bool
	hash        hash.Hash32
	expectedCRC uint32
	haveCRC     bool
}

func newYencReader(r io.Reader) *yencReader {
	return &yencReader{
		r:    bufio.NewReader(r),
		hash: crc32.NewIEEE(),
	}
}

func (d *yencReader) discardHeader() error {
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			return ErrHeaderNotFound
		}
		if strings.HasPrefix(line, "=ybegin") {
			// Multipart posts follow with an =ypart line.
			peek, _ := d.r.Peek(100)
			if strings.Contains(string(peek), "=ypart") {
				_, err := d.r.ReadString('\n')
				return err
			}
			return nil
		}
	}
}

func (d *yencReader) Read(p []byte) (n int, err error) {
	if d.reachedEnd {
		return 0, io.EOF
	}

	for n < len(p) {
		b, err := d.r.ReadByte()
		if err != nil {
			return n, err
		}

		if b == '=' && !d.escaped {
			peek, _ := d.r.Peek(4)
			if len(peek) >= 4 && string(peek) == "yend" {
				d.reachedEnd = true
				d.parseTrailer()
				return n, io.EOF
			}
			d.escaped = true
			continue
		}

		if b == '\r' || b == '\n' {
			d.escaped = false
			continue
		}

		var decoded byte
		if d.escaped {
			decoded = b - 64 - 42
			d.escaped = false
		} else {
			decoded = b - 42
		}

		p[n] = decoded
		d.hash.Write(p[n : n+1])
		n++
	}

	return n, nil
}

func (d *yencReader) parseTrailer() {
	line, _ := d.r.ReadString('\n')
	for _, field := range strings.Fields(line) {
		for _, key := range []string{"pcrc32=", "crc32="} {
			if v, ok := strings.CutPrefix(field, key); ok {
				if crc, err := strconv.ParseUint(v, 16, 32); err == nil {
					d.expectedCRC = uint32(crc)
					d.haveCRC = true
					return
				}
			}
		}
	}
}

func (d *yencReader) verify() error {
	if !d.haveCRC {
		return nil
	}
	if actual := d.hash.Sum32(); actual != d.expectedCRC {
		return fmt.Errorf("checksum mismatch: expected %08X, got %08X", d.expectedCRC, actual)
	}
	return nil
}

// Decode strips yEnc framing from an article payload and verifies the
// part CRC when the trailer carries one. Payloads without a =ybegin
// header come back as ErrHeaderNotFound so the caller can spool them
// untouched.
func Decode(data []byte) ([]byte, error) {
	d := newYencReader(bytes.NewReader(data))
	if err := d.discardHeader(); err != nil {
		return nil, err
	}
	out, err := io.ReadAll(d)
	if err != nil {
		return nil, err
	}
	if err := d.verify(); err != nil {
		return nil, err
	}
	return out, nil
}
