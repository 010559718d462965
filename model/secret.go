package model

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// WrappedSecret is an ordered list of independently encrypted fields, one
// ciphertext per wrapped secret. Field order is significant: the custody
// pipeline wraps [content identifier, symmetric key].
type WrappedSecret [][]byte

// fieldNum is the protobuf field carrying the repeated ciphertext blobs.
const fieldNum = protowire.Number(1)

// Marshal encodes the secret as a protobuf wire message with one repeated
// bytes field, so each ciphertext keeps its own length framing.
func (w WrappedSecret) Marshal() []byte {
	var b []byte
	for _, f := range w {
		b = protowire.AppendTag(b, fieldNum, protowire.BytesType)
		b = protowire.AppendBytes(b, f)
	}
	return b
}

// UnmarshalWrappedSecret decodes the wire form produced by Marshal.
func UnmarshalWrappedSecret(b []byte) (WrappedSecret, error) {
	var w WrappedSecret
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wrapped secret: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num != fieldNum || typ != protowire.BytesType {
			return nil, fmt.Errorf("wrapped secret: unexpected field %d type %d", num, typ)
		}
		f, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("wrapped secret: %w", protowire.ParseError(n))
		}
		b = b[n:]
		cp := make([]byte, len(f))
		copy(cp, f)
		w = append(w, cp)
	}
	return w, nil
}
