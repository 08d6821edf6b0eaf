// Package icrypto builds the additional authenticated data bound into
// sealed entries.
package icrypto

import (
	"encoding/binary"
)

const aadEntry = "ENTRY"

// AADEntry binds a sealed entry to its backend, key and envelope version.
// Moving the ciphertext to another location makes it fail to open.
func AADEntry(backend, key string, ver int) []byte {
	return buildAAD(aadEntry, backend, key, ver)
}

// buildAAD length-prefixes strings and byte slices so that no two part
// lists encode to the same bytes.
func buildAAD(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case []byte:
			res = appendLenPrefix(res, v)
		case uint64:
			res = binary.BigEndian.AppendUint64(res, v)
		case int:
			res = binary.BigEndian.AppendUint32(res, uint32(v))
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}
