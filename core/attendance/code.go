package attendance

import (
	"crypto/rand"

	"github.com/pkg/errors"
)

// codeAlphabet excludes characters easily confused when handwritten or read
// aloud: no 0/O, no 1/I.
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6
)

// GenerateCode produces a 6-character check-in code uniformly sampled from
// codeAlphabet. Codes are NOT globally unique: with 32^6 combinations and a
// 60s validity window the collision risk is accepted as negligible, and
// resolving a code always picks an active non-expired session.
func GenerateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "reading random bytes")
	}
	code := make([]byte, codeLength)
	for i, b := range buf {
		// len(codeAlphabet) == 32; masking keeps the sampling uniform
		code[i] = codeAlphabet[b&31]
	}
	return string(code), nil
}
