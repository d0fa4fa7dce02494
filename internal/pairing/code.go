package pairing

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
)

const codeLength = 6

// GenerateCode returns a 6-digit pairing code. Codes with all-identical
// digits or strictly sequential runs (123456, 987654) are rejected and
// redrawn: the code is verified by a human reading it across devices, and
// trivial patterns invite blind guessing and transcription mistakes.
func GenerateCode() (string, error) {
	for attempt := 0; attempt < 100; attempt++ {
		code, err := randomDigits(codeLength)
		if err != nil {
			return "", err
		}
		if acceptableCode(code) {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate acceptable pairing code")
}

func randomDigits(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate pairing code: %w", err)
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}

func acceptableCode(code string) bool {
	identical := true
	ascending := true
	descending := true
	for i := 1; i < len(code); i++ {
		if code[i] != code[0] {
			identical = false
		}
		if int(code[i])-int(code[i-1]) != 1 {
			ascending = false
		}
		if int(code[i-1])-int(code[i]) != 1 {
			descending = false
		}
	}
	return !identical && !ascending && !descending
}

// codesEqual compares codes in constant time.
func codesEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
