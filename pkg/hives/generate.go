package hives

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	identifierPrefix = "hive-"
	identifierLength = 6
	passwordLength   = 14
	alphanumeric     = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Generator produces fresh credentials for a new hive
type Generator func() (identifier, password string, err error)

// RandomCredentials returns "hive-" plus 6 alphanumerics and an independent
// 14 character password, both from crypto/rand
func RandomCredentials() (string, string, error) {
	suffix, err := randomString(identifierLength)
	if err != nil {
		return "", "", err
	}
	password, err := randomString(passwordLength)
	if err != nil {
		return "", "", err
	}
	return identifierPrefix + suffix, password, nil
}

func randomString(n int) (string, error) {
	alphabetLen := big.NewInt(int64(len(alphanumeric)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		buf[i] = alphanumeric[idx.Int64()]
	}
	return string(buf), nil
}
