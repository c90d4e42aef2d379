package dnswire

import "encoding/binary"

// HeaderSize is the fixed size of a DNS message header in bytes.
const HeaderSize = 12

// DNS header flag bits (RFC 1035 Section 4.1.1).
const (
	QRFlag    uint16 = 0x8000
	AAFlag    uint16 = 0x0400
	TCFlag    uint16 = 0x0200
	RDFlag    uint16 = 0x0100
	RAFlag    uint16 = 0x0080
	RCodeMask uint16 = 0x000F
)

// Header is the 12-byte fixed portion of a DNS message.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

func (h Header) marshalInto(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], h.ID)
	binary.BigEndian.PutUint16(b[2:4], h.Flags)
	binary.BigEndian.PutUint16(b[4:6], h.QDCount)
	binary.BigEndian.PutUint16(b[6:8], h.ANCount)
	binary.BigEndian.PutUint16(b[8:10], h.NSCount)
	binary.BigEndian.PutUint16(b[10:12], h.ARCount)
}

func parseHeader(msg []byte, off *int) (Header, error) {
	if *off+HeaderSize > len(msg) {
		return Header{}, malformed("buffer too short for header")
	}
	h := Header{
		ID:      binary.BigEndian.Uint16(msg[*off : *off+2]),
		Flags:   binary.BigEndian.Uint16(msg[*off+2 : *off+4]),
		QDCount: binary.BigEndian.Uint16(msg[*off+4 : *off+6]),
		ANCount: binary.BigEndian.Uint16(msg[*off+6 : *off+8]),
		NSCount: binary.BigEndian.Uint16(msg[*off+8 : *off+10]),
		ARCount: binary.BigEndian.Uint16(msg[*off+10 : *off+12]),
	}
	*off += HeaderSize
	return h, nil
}
