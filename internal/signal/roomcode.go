package signal

import (
	"crypto/rand"
	"math/big"
)

// codeAlphabet is upper-case base-36. Room codes are human-shareable, so they
// are always displayed and compared upper-cased.
const (
	codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeLength   = 6
)

// GenerateRoomCode returns a random 6-character base-36 code. Uniqueness is
// not guaranteed — the space (36^6 ≈ 2.2e9) makes collisions unlikely, and
// CreateRoom retries on the off chance one occurs.
func GenerateRoomCode() string {
	b := make([]byte, codeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			panic(err) // crypto/rand failure is unrecoverable
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b)
}
