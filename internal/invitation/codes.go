package invitation

import (
	"crypto/rand"
	"fmt"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeLength   = 8
)

// maxUnbiasedByte is the largest multiple of len(codeAlphabet) below 256;
// bytes at or above it are redrawn so every letter is equally likely.
const maxUnbiasedByte = 256 - 256%len(codeAlphabet)

// GenerateCode produces an 8-letter invite code drawn uniformly from A-Z.
// The keyspace (26^8 ≈ 2.09e11) makes collisions among active codes
// acceptably improbable; no dedup pass is made.
func GenerateCode() (string, error) {
	out := make([]byte, 0, codeLength)
	buf := make([]byte, codeLength*2)
	for len(out) < codeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxUnbiasedByte {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == codeLength {
				break
			}
		}
	}
	return string(out), nil
}
