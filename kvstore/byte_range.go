package kvstore

import (
	"fmt"
)

// ByteRange requests a sub-range [InclusiveMin, ExclusiveMax) of an
// object. The zero ByteRange reads the whole object. ExclusiveMax <= 0
// leaves the upper bound open; a negative InclusiveMin together with a
// positive ExclusiveMax requests a suffix of that many bytes.
type ByteRange struct {
	InclusiveMin int64
	ExclusiveMax int64
}

// IsFull reports whether r places no restriction on the read.
func (r ByteRange) IsFull() bool {
	return r.InclusiveMin <= 0 && r.ExclusiveMax <= 0
}

func (r ByteRange) suffix() bool {
	return r.InclusiveMin < 0 && r.ExclusiveMax > 0
}

// RequestSize returns the number of bytes the range asks for, or -1 when
// the range is open-ended.
func (r ByteRange) RequestSize() int64 {
	switch {
	case r.suffix():
		return r.ExclusiveMax
	case r.ExclusiveMax > 0:
		return r.ExclusiveMax - r.InclusiveMin
	default:
		return -1
	}
}

// RangeHeader renders the HTTP Range header value for r, or "" when no
// header is needed.
func (r ByteRange) RangeHeader() string {
	switch {
	case r.IsFull():
		return ""
	case r.suffix():
		return fmt.Sprintf("bytes=-%d", r.ExclusiveMax)
	case r.ExclusiveMax > 0:
		return fmt.Sprintf("bytes=%d-%d", r.InclusiveMin, r.ExclusiveMax-1)
	default:
		return fmt.Sprintf("bytes=%d-", r.InclusiveMin)
	}
}

// Validate resolves r against an object of the given size, returning the
// concrete offset and length of the requested slice. Bounds beyond the
// object fail with ErrOutOfRange; suffix requests longer than the object
// are clamped to it.
func (r ByteRange) Validate(size int64) (offset, length int64, err error) {
	switch {
	case r.IsFull():
		return 0, size, nil
	case r.suffix():
		n := r.ExclusiveMax
		if n > size {
			n = size
		}
		return size - n, n, nil
	default:
		if r.ExclusiveMax > 0 && r.ExclusiveMax < r.InclusiveMin {
			return 0, 0, fmt.Errorf("%w: byte range %s is inverted", ErrInvalidArgument, r)
		}
		if r.InclusiveMin > size {
			return 0, 0, fmt.Errorf("%w: byte range %s exceeds object size %d", ErrOutOfRange, r, size)
		}
		end := size
		if r.ExclusiveMax > 0 {
			end = r.ExclusiveMax
			if end > size {
				return 0, 0, fmt.Errorf("%w: byte range %s exceeds object size %d", ErrOutOfRange, r, size)
			}
		}
		return r.InclusiveMin, end - r.InclusiveMin, nil
	}
}

func (r ByteRange) String() string {
	if r.IsFull() {
		return "[0, eof)"
	}
	if r.suffix() {
		return fmt.Sprintf("[eof-%d, eof)", r.ExclusiveMax)
	}
	if r.ExclusiveMax <= 0 {
		return fmt.Sprintf("[%d, eof)", r.InclusiveMin)
	}
	return fmt.Sprintf("[%d, %d)", r.InclusiveMin, r.ExclusiveMax)
}
