package tlv

import "io"

// Element is a decoded data object.
type Element struct {
	Tag   Tag
	Value []byte
}

type frame struct {
	data []byte
	pos  int
}

// Reader decodes a sequence of BER-TLV data objects.
//
// Usage:
//
//	r := tlv.NewReader(data)
//	for {
//		if err := r.Next(); err == io.EOF {
//			break
//		} else if err != nil {
//			return err
//		}
//		switch r.Tag() { ... }
//	}
type Reader struct {
	data  []byte
	pos   int
	stack []frame

	hasElement bool
	tag        Tag
	value      []byte
	raw        []byte
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Next advances to the next data object at the current nesting level.
// It returns io.EOF when the level has no more data objects.
func (r *Reader) Next() error {
	r.hasElement = false
	if r.pos >= len(r.data) {
		return io.EOF
	}

	rest := r.data[r.pos:]
	tag, tn, err := readTag(rest)
	if err != nil {
		return err
	}
	length, ln, err := readLength(rest[tn:])
	if err != nil {
		return err
	}
	header := tn + ln
	if len(rest)-header < length {
		return ErrUnexpectedEOF
	}

	r.tag = tag
	r.value = rest[header : header+length]
	r.raw = rest[:header+length]
	r.pos += header + length
	r.hasElement = true
	return nil
}

// Tag returns the tag of the current data object.
func (r *Reader) Tag() Tag {
	return r.tag
}

// HasElement reports whether the reader is positioned on a data object.
func (r *Reader) HasElement() bool {
	return r.hasElement
}

// Bytes returns a copy of the current value field.
func (r *Reader) Bytes() ([]byte, error) {
	if !r.hasElement {
		return nil, ErrNoElement
	}
	return append([]byte(nil), r.value...), nil
}

// RawBytes returns a copy of the complete encoding (tag, length, value)
// of the current data object.
func (r *Reader) RawBytes() ([]byte, error) {
	if !r.hasElement {
		return nil, ErrNoElement
	}
	return append([]byte(nil), r.raw...), nil
}

// EnterContainer descends into the current constructed data object.
func (r *Reader) EnterContainer() error {
	if !r.hasElement {
		return ErrNoElement
	}
	if !r.tag.Constructed() {
		return ErrNotConstructed
	}
	r.stack = append(r.stack, frame{data: r.data, pos: r.pos})
	r.data = r.value
	r.pos = 0
	r.hasElement = false
	return nil
}

// ExitContainer returns to the enclosing level, skipping any unread
// data objects of the current container.
func (r *Reader) ExitContainer() error {
	if len(r.stack) == 0 {
		return ErrNotInContainer
	}
	top := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	r.data = top.data
	r.pos = top.pos
	r.hasElement = false
	return nil
}

// ContainerDepth returns the current nesting depth.
func (r *Reader) ContainerDepth() int {
	return len(r.stack)
}

// Parse decodes all data objects at the top level of data.
// Values alias data.
func Parse(data []byte) ([]Element, error) {
	var out []Element
	r := NewReader(data)
	for {
		err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Element{Tag: r.tag, Value: r.value})
	}
}

// ParseContainer decodes data as exactly one constructed data object with
// the given tag and returns its children.
func ParseContainer(data []byte, tag Tag) ([]Element, error) {
	top, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if len(top) != 1 || top[0].Tag != tag {
		return nil, ErrNotFound
	}
	if !tag.Constructed() {
		return nil, ErrNotConstructed
	}
	return Parse(top[0].Value)
}

// Find returns the value of the first element with the given tag.
func Find(elems []Element, tag Tag) ([]byte, bool) {
	for _, e := range elems {
		if e.Tag == tag {
			return e.Value, true
		}
	}
	return nil, false
}
