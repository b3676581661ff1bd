package cryptovault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/trysoma/soma-sub005/infrastructure/errors"
)

// envelopeVersion prefixes every EncryptedString this package produces, per
// the open question in §9: AES-256-GCM with a 96-bit random nonce.
const envelopeVersion = "v1:"

// sealWithKey / openWithKey implement the raw AEAD step shared by KEK
// wrapping (DEK ciphertext) and DEK-keyed application data encryption. They
// return/consume nonce||ciphertext||tag with no DEK-id framing — that
// framing is added one layer up, in EncryptedString, where it is needed to
// survive alias rotation.
func sealWithKey(key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != dekKeyLength {
		return nil, errors.New(errors.KindInternal, fmt.Sprintf("key must be %d bytes, got %d", dekKeyLength, len(key)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "new cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "new gcm", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(errors.KindInternal, "read nonce", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, aad)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

func openWithKey(key, raw, aad []byte) ([]byte, error) {
	if len(key) != dekKeyLength {
		return nil, errors.New(errors.KindInternal, fmt.Sprintf("key must be %d bytes, got %d", dekKeyLength, len(key)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "new cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "new gcm", err)
	}
	if len(raw) < aead.NonceSize() {
		return nil, errors.New(errors.KindInternal, "ciphertext shorter than nonce")
	}
	nonce := raw[:aead.NonceSize()]
	body := raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "decrypt", err)
	}
	return plaintext, nil
}

// EncryptedString is the opaque, base64-encoded wire form produced by
// EncryptionService.EncryptData: it embeds the id of the DEK used so a
// later alias repoint cannot orphan already-issued ciphertext.
type EncryptedString string

// encodeEnvelope frames dekID||nonce||ciphertext||tag and base64-encodes it
// with a version prefix.
func encodeEnvelope(dekID string, aeadOutput []byte) EncryptedString {
	idBytes := []byte(dekID)
	buf := make([]byte, 0, 2+len(idBytes)+len(aeadOutput))
	buf = append(buf, byte(len(idBytes)>>8), byte(len(idBytes)))
	buf = append(buf, idBytes...)
	buf = append(buf, aeadOutput...)
	return EncryptedString(envelopeVersion + base64.RawURLEncoding.EncodeToString(buf))
}

// decodeEnvelope reverses encodeEnvelope, returning the originating DEK id
// and the raw nonce||ciphertext||tag payload.
func decodeEnvelope(encoded EncryptedString) (dekID string, aeadOutput []byte, err error) {
	s := strings.TrimPrefix(string(encoded), envelopeVersion)
	raw, decodeErr := base64.RawURLEncoding.DecodeString(s)
	if decodeErr != nil {
		return "", nil, errors.Wrap(errors.KindInternal, "decode envelope", decodeErr)
	}
	if len(raw) < 2 {
		return "", nil, errors.New(errors.KindInternal, "envelope too short")
	}
	idLen := int(raw[0])<<8 | int(raw[1])
	if len(raw) < 2+idLen {
		return "", nil, errors.New(errors.KindInternal, "envelope truncated id")
	}
	return string(raw[2 : 2+idLen]), raw[2+idLen:], nil
}
