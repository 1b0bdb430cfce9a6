package js

import (
	"unicode/utf8"

	"github.com/wippyai/jsbridge/errors"
)

// String is a Value known to hold an engine string.
type String struct {
	*Value
}

// ToString copies the string out of the engine. Bytes that are not valid
// UTF-8, such as an unpaired surrogate, produce an invalid_utf8 error
// rather than a substituted string.
func (s String) ToString() (string, error) {
	s.check()
	c := s.ctx

	buf, n, err := c.native.ToCStringLen(c.ptr, s.raw)
	if err != nil {
		return "", nativeError(errors.PhaseDecode, err, "convert string")
	}
	if buf == 0 {
		c.drainException()
		return "", errors.Unknown(errors.PhaseDecode, "engine returned a null string buffer")
	}
	defer c.freeBuffer(buf)

	data, ok := c.native.ReadBuffer(buf, n)
	if !ok {
		return "", errors.Unknown(errors.PhaseDecode, "string buffer out of bounds")
	}
	if !utf8.Valid(data) {
		return "", errors.InvalidUTF8(errors.PhaseDecode, data)
	}
	return string(data), nil
}

// Clone takes a new reference to the string.
func (s String) Clone() (String, error) {
	v, err := s.Value.Clone()
	if err != nil {
		return String{}, err
	}
	return String{v}, nil
}
