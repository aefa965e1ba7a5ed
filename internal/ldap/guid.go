package ldap

import (
	"encoding/binary"
	"fmt"
)

// formatGUID renders a raw objectGUID value in the canonical string form.
// The first three groups are little-endian on the wire.
func formatGUID(raw []byte) string {
	if len(raw) != 16 {
		return ""
	}
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%x",
		binary.LittleEndian.Uint32(raw[0:4]),
		binary.LittleEndian.Uint16(raw[4:6]),
		binary.LittleEndian.Uint16(raw[6:8]),
		raw[8:10],
		raw[10:16],
	)
}
