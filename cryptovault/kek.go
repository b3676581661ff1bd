// Package cryptovault implements the two-tier envelope-encryption key
// hierarchy (KEK -> DEK -> ciphertext), its alias indirection layer, and
// an in-process cache with change-driven invalidation.
package cryptovault

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/trysoma/soma-sub005/infrastructure/errors"
)

// dekKeyLength is the AES-256-GCM key size used throughout this package.
const dekKeyLength = 32

// KEKVariantKind discriminates the KEK tagged union.
type KEKVariantKind string

const (
	KEKVariantLocal  KEKVariantKind = "local"
	KEKVariantAwsKms KEKVariantKind = "aws_kms"
)

// KEK is an envelope-encryption key encryption key. Its id is derivable
// from the variant payload: the local file path, or the KMS ARN verbatim.
type KEK struct {
	Kind     KEKVariantKind
	FileName string // Local
	ARN      string // AwsKms
	Region   string // AwsKms
}

// ID returns the KEK's identifier per §6: "the file path IS the KEK id" /
// "AWS KMS ARNs are the KEK id verbatim".
func (k KEK) ID() string {
	if k.Kind == KEKVariantAwsKms {
		return k.ARN
	}
	return k.FileName
}

// KMSDecrypter abstracts the remote call a cloud KMS KEK needs to unwrap a
// DEK ciphertext. Production wiring supplies a real client; tests supply a
// fake. Left unimplemented against a live KMS here since no KMS SDK is
// exercised elsewhere in this module.
type KMSDecrypter interface {
	Decrypt(ctx context.Context, arn, region string, wrapped []byte) ([]byte, error)
	Encrypt(ctx context.Context, arn, region string, plaintext []byte) ([]byte, error)
}

// Materializer resolves a KEK to the raw key bytes used to wrap/unwrap DEKs.
type Materializer struct {
	KMS KMSDecrypter
}

// NewMaterializer builds a Materializer. kms may be nil if no AwsKms KEKs
// will be used.
func NewMaterializer(kms KMSDecrypter) *Materializer {
	return &Materializer{KMS: kms}
}

// Wrap encrypts dekPlaintext under kek, producing the bytes stored as the
// DEK's ciphertext.
func (m *Materializer) Wrap(ctx context.Context, kek KEK, dekPlaintext []byte) ([]byte, error) {
	switch kek.Kind {
	case KEKVariantLocal:
		key, err := m.localKeyMaterial(kek.FileName)
		if err != nil {
			return nil, err
		}
		return sealWithKey(key, dekPlaintext, []byte(kek.ID()))
	case KEKVariantAwsKms:
		if m.KMS == nil {
			return nil, errors.New(errors.KindInternal, "no KMS client configured for AwsKms KEK")
		}
		out, err := m.KMS.Encrypt(ctx, kek.ARN, kek.Region, dekPlaintext)
		if err != nil {
			return nil, errors.Wrap(errors.KindInternal, "kms encrypt", err)
		}
		return out, nil
	default:
		return nil, errors.New(errors.KindInternal, fmt.Sprintf("unknown KEK variant %q", kek.Kind))
	}
}

// Unwrap decrypts a DEK's stored ciphertext using kek.
func (m *Materializer) Unwrap(ctx context.Context, kek KEK, wrapped []byte) ([]byte, error) {
	switch kek.Kind {
	case KEKVariantLocal:
		key, err := m.localKeyMaterial(kek.FileName)
		if err != nil {
			return nil, err
		}
		return openWithKey(key, wrapped, []byte(kek.ID()))
	case KEKVariantAwsKms:
		if m.KMS == nil {
			return nil, errors.New(errors.KindInternal, "no KMS client configured for AwsKms KEK")
		}
		out, err := m.KMS.Decrypt(ctx, kek.ARN, kek.Region, wrapped)
		if err != nil {
			return nil, errors.Wrap(errors.KindInternal, "kms decrypt", err)
		}
		return out, nil
	default:
		return nil, errors.New(errors.KindInternal, fmt.Sprintf("unknown KEK variant %q", kek.Kind))
	}
}

// localKeyMaterial reads the local KEK file, creating it lazily with random
// content of the required length if absent.
func (m *Materializer) localKeyMaterial(fileName string) ([]byte, error) {
	data, err := os.ReadFile(fileName)
	if err == nil {
		if len(data) != dekKeyLength {
			return nil, errors.New(errors.KindInternal, fmt.Sprintf("local KEK file %q has unexpected length %d", fileName, len(data)))
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrap(errors.KindInternal, "read local KEK file", err)
	}

	key := make([]byte, dekKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(errors.KindInternal, "generate local KEK material", err)
	}
	if dir := filepath.Dir(fileName); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrap(errors.KindInternal, "create local KEK directory", err)
		}
	}
	if err := os.WriteFile(fileName, key, 0o600); err != nil {
		return nil, errors.Wrap(errors.KindInternal, "write local KEK file", err)
	}
	return key, nil
}
