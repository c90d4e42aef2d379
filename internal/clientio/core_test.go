package clientio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeTag(t *testing.T) {
	tests := []struct {
		kind int32
		idx  int
	}{
		{tagKindUDPListener, 0},
		{tagKindUDPListener, 7},
		{tagKindTCPListener, 3},
		{tagKindTCPSession, 123456},
	}
	for _, tt := range tests {
		tag := encodeTag(tt.kind, tt.idx)
		kind, idx := decodeTag(tag)
		assert.Equal(t, tt.kind, kind)
		assert.Equal(t, tt.idx, idx)
	}
}
