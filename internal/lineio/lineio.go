// Package lineio reads newline-delimited input with a per-line size cap.
package lineio

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// Reader yields lines without their "\n" or "\r\n" terminator. Lines longer
// than the cap are consumed and reported as skipped instead of ending the
// stream.
type Reader struct {
	br      *bufio.Reader
	maxLine int
}

// NewReader wraps r. maxLine is the largest accepted line in bytes,
// excluding the terminator.
func NewReader(r io.Reader, maxLine int) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, min(maxLine+2, 64*1024)), maxLine: maxLine}
}

// Next returns the next line. skipped is true when the line exceeded the
// cap, in which case line is nil. err is io.EOF at the end of input; a
// final unterminated line is returned together with io.EOF.
func (r *Reader) Next() (line []byte, skipped bool, err error) {
	for {
		frag, err := r.br.ReadSlice('\n')
		if !skipped {
			if len(line)+len(frag) > r.maxLine+2 {
				skipped, line = true, nil
			} else {
				line = append(line, frag...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if skipped {
			return nil, true, err
		}
		line = bytes.TrimSuffix(line, []byte("\n"))
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) > r.maxLine {
			return nil, true, err
		}
		return line, false, err
	}
}
