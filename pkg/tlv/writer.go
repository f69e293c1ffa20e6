package tlv

// Writer encodes BER-TLV data objects into a byte buffer.
// Constructed data objects are opened with StartContainer and closed with
// EndContainer; their length is filled in on close.
type Writer struct {
	buf            []byte
	containerStack []int // offsets of open container values
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// PutBytes writes a primitive data object.
func (w *Writer) PutBytes(tag Tag, value []byte) {
	w.buf = append(w.buf, tag.Bytes()...)
	w.buf = appendLength(w.buf, len(value))
	w.buf = append(w.buf, value...)
}

// PutUint8 writes a one-byte primitive data object.
func (w *Writer) PutUint8(tag Tag, v uint8) {
	w.PutBytes(tag, []byte{v})
}

// PutRaw appends an already encoded data object.
func (w *Writer) PutRaw(encoded []byte) {
	w.buf = append(w.buf, encoded...)
}

// StartContainer opens a constructed data object.
func (w *Writer) StartContainer(tag Tag) error {
	if !tag.Constructed() {
		return ErrNotConstructed
	}
	w.buf = append(w.buf, tag.Bytes()...)
	w.containerStack = append(w.containerStack, len(w.buf))
	return nil
}

// EndContainer closes the innermost open container.
func (w *Writer) EndContainer() error {
	if len(w.containerStack) == 0 {
		return ErrNotInContainer
	}
	start := w.containerStack[len(w.containerStack)-1]
	w.containerStack = w.containerStack[:len(w.containerStack)-1]

	content := append([]byte(nil), w.buf[start:]...)
	w.buf = appendLength(w.buf[:start], len(content))
	w.buf = append(w.buf, content...)
	return nil
}

// Bytes returns the encoding. All containers must be closed.
func (w *Writer) Bytes() ([]byte, error) {
	if len(w.containerStack) != 0 {
		return nil, ErrContainerNotClosed
	}
	return w.buf, nil
}

// Encode returns the encoding of a single data object whose value is the
// concatenation of values.
func Encode(tag Tag, values ...[]byte) []byte {
	n := 0
	for _, v := range values {
		n += len(v)
	}
	out := tag.Bytes()
	out = appendLength(out, n)
	for _, v := range values {
		out = append(out, v...)
	}
	return out
}
