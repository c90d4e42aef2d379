package dnswire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeQuery(t *testing.T, id uint16, flags uint16, name string) []byte {
	t.Helper()
	hdr := Header{ID: id, Flags: flags, QDCount: 1}
	buf := make([]byte, HeaderSize)
	hdr.marshalInto(buf)
	ct := newCompressionTable()
	buf = ct.writeName(buf, name)
	buf = append(buf, 0x00, 0x01, 0x00, 0x01) // A, IN
	return buf
}

func TestParseRoundTrip(t *testing.T) {
	msg := encodeQuery(t, 0x1234, RDFlag, "www.example.com.")

	h, q, err := Parse(msg)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), h.ID)
	assert.Equal(t, "www.example.com.", q.Name)
	assert.Equal(t, TypeA, q.Type)
	assert.Equal(t, ClassIN, q.Class)
}

func TestParseRootName(t *testing.T) {
	msg := encodeQuery(t, 1, 0, ".")
	_, q, err := Parse(msg)
	require.NoError(t, err)
	assert.Equal(t, ".", q.Name)
}

func TestParseRejectsShortMessage(t *testing.T) {
	_, _, err := Parse(make([]byte, 10))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseRejectsMultipleQuestions(t *testing.T) {
	msg := encodeQuery(t, 1, 0, "example.com.")
	msg[5] = 2 // qdcount = 2
	_, _, err := Parse(msg)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseRejectsOversizedLabel(t *testing.T) {
	msg := encodeQuery(t, 1, 0, "example.com.")
	msg[HeaderSize] = 64 // label length byte, one over the 63 limit
	_, _, err := Parse(msg)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseRejectsPointerToPointer(t *testing.T) {
	msg := encodeQuery(t, 1, 0, "example.com.")
	p := len(msg)
	// A pointer that targets itself: the byte it lands on is a pointer too.
	msg = append(msg, 0xC0|byte((p>>8)&0x3F), byte(p&0xFF))
	_, _, err := parseQuestion(msg, p)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestBuildBlockResponseRoundTrip(t *testing.T) {
	reqMsg := encodeQuery(t, 0xBEEF, RDFlag, "a.b.c.example.org.")
	reqHeader, q, err := Parse(reqMsg)
	require.NoError(t, err)

	b := NewBuilder()
	resp := b.BuildBlockResponse(reqHeader, q, [4]byte{10, 0, 0, 1})

	respHeader, respQ, err := Parse(resp)
	require.NoError(t, err)

	assert.Equal(t, uint16(0xBEEF), respHeader.ID)
	assert.NotZero(t, respHeader.Flags&QRFlag)
	assert.NotZero(t, respHeader.Flags&AAFlag)
	assert.NotZero(t, respHeader.Flags&RAFlag)
	assert.Equal(t, uint16(1), respHeader.ANCount)
	assert.Equal(t, "a.b.c.example.org.", respQ.Name)
	assert.Equal(t, TypeA, respQ.Type)

	// The question name is written first and has nothing to compress
	// against; the answer section repeats it and should compress to a
	// 2-byte pointer.
	questionOff := HeaderSize
	_, qConsumed, err := decodeName(resp, questionOff)
	require.NoError(t, err)
	assert.Greater(t, qConsumed, 2, "first occurrence of the name should be written in full")

	answerNameOff := questionOff + qConsumed + 4
	_, ptrConsumed, err := decodeName(resp, answerNameOff)
	require.NoError(t, err)
	assert.Equal(t, 2, ptrConsumed, "repeated name in answer section should compress to a 2-byte pointer")
}

func TestBuildBlockResponseNoRecursionDesired(t *testing.T) {
	reqMsg := encodeQuery(t, 1, 0, "example.com.")
	reqHeader, q, err := Parse(reqMsg)
	require.NoError(t, err)

	b := NewBuilder()
	resp := b.BuildBlockResponse(reqHeader, q, [4]byte{0, 0, 0, 0})

	respHeader, _, err := Parse(resp)
	require.NoError(t, err)
	assert.Zero(t, respHeader.Flags&RAFlag)
}
