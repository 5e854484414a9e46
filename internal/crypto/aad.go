package icrypto

import "encoding/binary"

const aadSessionRecord = "SESSION_RECORD"

// AADSessionRecord binds a sealed record to its scope, key and envelope
// version so a ciphertext cannot be replayed under a different address.
// Each string is length-prefixed, so field boundaries are unambiguous.
func AADSessionRecord(scope, key string, ver int) []byte {
	var aad []byte
	for _, field := range [...]string{aadSessionRecord, scope, key} {
		aad = binary.BigEndian.AppendUint32(aad, uint32(len(field)))
		aad = append(aad, field...)
	}
	return binary.BigEndian.AppendUint32(aad, uint32(ver))
}
