// Package dump reads diagnostic log text exposed by system-controller
// firmware.
//
// Some controller integrations expose a memory region into which the
// firmware writes a rolling, NUL-terminated log. This package snapshots
// such a region for inspection. It is read-only and completely independent
// of the exchange engine's state.
package dump

import (
	"bytes"
	"errors"
	"io"
)

// ErrEmptyRegion is returned when a Region is created with a size of zero.
var ErrEmptyRegion = errors.New("dump: empty log region")

// Region is a read-only view of a firmware log region.
type Region struct {
	r    io.ReaderAt
	size int
	buf  []byte
}

// NewRegion creates a Region over size bytes of r.
// The snapshot buffer is allocated once up front.
func NewRegion(r io.ReaderAt, size int) (*Region, error) {
	if size <= 0 {
		return nil, ErrEmptyRegion
	}
	return &Region{
		r:    r,
		size: size,
		buf:  make([]byte, size),
	}, nil
}

// Size returns the region size in bytes.
func (d *Region) Size() int {
	return d.size
}

// Snapshot copies the current region contents and returns the log text,
// truncated at the first NUL byte. The firmware is not required to
// NUL-terminate; a full region is returned as-is.
//
// The log may have rolled over since the firmware started; no attempt is
// made to re-order wrapped content.
func (d *Region) Snapshot() (string, error) {
	n, err := d.r.ReadAt(d.buf, 0)
	if err != nil && err != io.EOF {
		return "", err
	}

	data := d.buf[:n]
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(data), nil
}

// WriteTo writes a snapshot of the log text to w.
func (d *Region) WriteTo(w io.Writer) (int64, error) {
	s, err := d.Snapshot()
	if err != nil {
		return 0, err
	}
	n, err := io.WriteString(w, s)
	return int64(n), err
}
