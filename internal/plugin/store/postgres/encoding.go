package postgres

import "encoding/base64"

const ciphertextPrefix = "enc:"

// encodeCiphertext marks encrypted content_data with a prefix so decryptContent
// can tell it apart from plaintext written before encryption was enabled.
func encodeCiphertext(ciphertext []byte) string {
	return ciphertextPrefix + base64.StdEncoding.EncodeToString(ciphertext)
}

func decodeCiphertext(stored string) ([]byte, bool) {
	if len(stored) < len(ciphertextPrefix) || stored[:len(ciphertextPrefix)] != ciphertextPrefix {
		return nil, false
	}
	b, err := base64.StdEncoding.DecodeString(stored[len(ciphertextPrefix):])
	if err != nil {
		return nil, false
	}
	return b, true
}
