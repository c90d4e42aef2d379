package dnswire

import "encoding/binary"

// Resource record type/class values this proxy needs to recognize or emit.
const (
	TypeA   uint16 = 1
	ClassIN uint16 = 1
)

// Question is a parsed question-section entry: QNAME (trailing-dot form),
// QTYPE, QCLASS.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// parseQuestion reads one question section starting at off and returns the
// offset immediately following it.
func parseQuestion(msg []byte, off int) (Question, int, error) {
	name, consumed, err := decodeName(msg, off)
	if err != nil {
		return Question{}, 0, err
	}
	off += consumed

	if off+4 > len(msg) {
		return Question{}, 0, malformed("question section runs past end of buffer")
	}

	q := Question{
		Name:  name,
		Type:  binary.BigEndian.Uint16(msg[off : off+2]),
		Class: binary.BigEndian.Uint16(msg[off+2 : off+4]),
	}
	off += 4
	return q, off, nil
}
