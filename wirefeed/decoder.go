package wirefeed

import "errors"

var (
	errTruncated    = errors.New("truncated buffer")
	errVarint       = errors.New("varint overflow")
	errUnknownWire  = errors.New("unknown wire type")
	errLengthBounds = errors.New("length-delimited field exceeds buffer")
)

// decoder is a cursor over one message's bytes. Nested messages get
// their own decoder over the sliced payload.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) done() bool { return d.pos >= len(d.buf) }

func (d *decoder) uvarint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		if d.pos >= len(d.buf) {
			return 0, errTruncated
		}
		b := d.buf[d.pos]
		d.pos++
		if shift == 63 && b > 1 {
			return 0, errVarint
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
		if shift > 63 {
			return 0, errVarint
		}
	}
}

// tag reads one (fieldNumber, wireType) key.
func (d *decoder) tag() (int, int, error) {
	u, err := d.uvarint()
	if err != nil {
		return 0, 0, err
	}
	return int(u >> 3), int(u & 0x7), nil
}

// bytes reads a length-delimited field's payload.
func (d *decoder) bytes() ([]byte, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(d.buf)-d.pos) {
		return nil, errLengthBounds
	}
	out := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return out, nil
}

// skip consumes one field's value according to its wire type.
func (d *decoder) skip(wireType int) error {
	switch wireType {
	case wireVarint:
		_, err := d.uvarint()
		return err
	case wireFixed64:
		if len(d.buf)-d.pos < 8 {
			return errTruncated
		}
		d.pos += 8
		return nil
	case wireBytes:
		_, err := d.bytes()
		return err
	case wireFixed32:
		if len(d.buf)-d.pos < 4 {
			return errTruncated
		}
		d.pos += 4
		return nil
	default:
		return errUnknownWire
	}
}
