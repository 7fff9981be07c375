package store

import (
	"crypto/rand"
	"math/big"
)

// codeAlphabet excludes nothing: the full A-Z 0-9 space gives 36^6 codes.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const codeLength = 6

// generateCode returns a random 6-character join code. Uniqueness among live
// rooms is enforced by the partial unique index; callers retry on collision.
func generateCode() string {
	buf := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the OS entropy source is broken
			panic(err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf)
}
