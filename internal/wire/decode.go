package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// fieldVisitor is invoked once per decoded field; it returns the
// number of bytes consumed from data past the tag, or a negative
// protowire error code.
type fieldVisitor func(num protowire.Number, typ protowire.Type, data []byte) (int, error)

// decodeFields walks a protobuf wire-format byte string, dispatching
// each field to visit. Unknown fields are skipped.
func decodeFields(data []byte, visit fieldVisitor) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		consumed, err := visit(num, typ, data)
		if err != nil {
			return err
		}
		if consumed < 0 {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return fmt.Errorf("wire: skip field %d: %w", num, protowire.ParseError(m))
			}
			consumed = m
		}
		data = data[consumed:]
	}
	return nil
}

func consumeBytesField(name string, data []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, 0, fmt.Errorf("wire: %s: %w", name, protowire.ParseError(n))
	}
	return append([]byte(nil), v...), n, nil
}

func consumeVarintField(name string, data []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, fmt.Errorf("wire: %s: %w", name, protowire.ParseError(n))
	}
	return v, n, nil
}
