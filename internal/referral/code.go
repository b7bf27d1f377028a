package referral

import (
	"crypto/rand"
	"fmt"
)

// Alphabet is the 32-symbol set referral codes draw from. Visually
// ambiguous characters (I, L, O, U) are excluded so codes survive being
// read aloud or handwritten.
const Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// codeLength is the number of random symbols after the prefix.
const codeLength = 6

// generateCode returns a candidate code: fixed prefix plus codeLength
// symbols from Alphabet, drawn from crypto/rand.
func generateCode(prefix string) (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return prefix + string(buf), nil
}
