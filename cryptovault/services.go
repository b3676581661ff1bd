package cryptovault

import "context"

// EncryptionService encrypts plaintext under the DEK currently bound to a
// fixed alias, so rotating the alias transparently changes which DEK new
// ciphertext is issued under.
type EncryptionService struct {
	cache *CryptoCache
	alias string
}

// DecryptionService decrypts any EncryptedString produced by this package,
// regardless of which alias (if any) was used to create it: the DEK id is
// embedded in the envelope itself.
type DecryptionService struct {
	cache *CryptoCache
}

// EncryptionServiceFor vends an EncryptionService bound to alias.
func (c *CryptoCache) EncryptionServiceFor(alias string) *EncryptionService {
	return &EncryptionService{cache: c, alias: alias}
}

// DecryptionService vends a DecryptionService; it has no alias affinity.
func (c *CryptoCache) DecryptionService() *DecryptionService {
	return &DecryptionService{cache: c}
}

// EncryptData authenticates and encrypts plaintext with the alias's current
// DEK, returning an opaque EncryptedString.
func (s *EncryptionService) EncryptData(ctx context.Context, plaintext []byte) (EncryptedString, error) {
	handle, err := s.cache.resolve(ctx, s.alias, "dek_alias")
	if err != nil {
		return "", err
	}
	aeadOutput, err := sealWithKey(handle.plaintext, plaintext, []byte(handle.dek.ID))
	if err != nil {
		return "", err
	}
	return encodeEnvelope(handle.dek.ID, aeadOutput), nil
}

// DecryptData reverses EncryptData, resolving the DEK by the id embedded in
// the envelope rather than by any alias.
func (s *DecryptionService) DecryptData(ctx context.Context, encrypted EncryptedString) ([]byte, error) {
	dekID, aeadOutput, err := decodeEnvelope(encrypted)
	if err != nil {
		return nil, err
	}
	handle, err := s.cache.resolve(ctx, dekID, "dek_id")
	if err != nil {
		return nil, err
	}
	return openWithKey(handle.plaintext, aeadOutput, []byte(dekID))
}
