package icrypto

import "github.com/jmcleod/bearer/internal/util"

const recordKeyInfo = "bearer:session-record-key:v1"

// DeriveRecordKey derives a scope-specific record encryption key from the
// operator-supplied store secret.
func DeriveRecordKey(secret []byte, scope string) ([]byte, error) {
	return util.DeriveKey(secret, scope, recordKeyInfo)
}
