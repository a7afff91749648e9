package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// FlagEndSession marks a control message that closes the session.
const FlagEndSession uint32 = 1

// Content is the plaintext carried inside a ratchet message.
type Content struct {
	Body  []byte
	Flags uint32
}

// EndSession reports whether the end-session flag is set.
func (c *Content) EndSession() bool { return c.Flags&FlagEndSession != 0 }

// Marshal encodes c; empty fields are omitted.
func (c *Content) Marshal() []byte {
	var b []byte
	if len(c.Body) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Body)
	}
	if c.Flags != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(c.Flags))
	}
	return b
}

// ParseContent decodes a plaintext content frame.
func ParseContent(b []byte) (*Content, error) {
	c := &Content{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool) {
		switch num {
		case 1:
			return consumeBytes(typ, v, &c.Body), true
		case 4:
			return consumeUint32(typ, v, &c.Flags), true
		}
		return 0, false
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
