// Package deviceid synthesizes the 32-byte device identifier carried in
// ConnectInfo.DID (spec.md §6). The control channel in this module does not
// send it to the console.
package deviceid

import "crypto/rand"

// Size is the total length of a synthesized device id.
const Size = 32

// prefix is the fixed 10-byte device-class tag every Remote Play client uses.
var prefix = [10]byte{0x00, 0x18, 0x00, 0x00, 0x00, 0x07, 0x00, 0x40, 0x00, 0x80}

// suffixLen is the number of trailing zero bytes after the random payload.
const suffixLen = 6

// randLen is the number of cryptographically random bytes in the middle.
const randLen = Size - len(prefix) - suffixLen

// New synthesizes a device id: 10-byte fixed prefix, 16 random bytes, 6 zero
// bytes.
func New() ([Size]byte, error) {
	var id [Size]byte
	copy(id[:len(prefix)], prefix[:])
	if _, err := rand.Read(id[len(prefix) : len(prefix)+randLen]); err != nil {
		return id, err
	}
	// id[len(prefix)+randLen:] is already zero by declaration.
	return id, nil
}
