package common

import (
	"crypto/rand"
	"encoding/base64"
)

// randRead is a test seam for crypto/rand.Read.
var randRead = rand.Read

// MakeRandBytes returns size bytes read from crypto/rand.
func MakeRandBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := randRead(b); err != nil {
		return nil, err
	}
	return b, nil
}

// MakeRandBase64String reads size random bytes and renders them with the
// standard base64 alphabet. The result is 4*ceil(size/3) characters long.
func MakeRandBase64String(size int) (string, error) {
	b, err := MakeRandBytes(size)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// WipeByteArray overwrites the slice with zeros. Nil is allowed.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
