package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"auth-service/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// EncryptedField is an envelope-encrypted value: the field ciphertext is
// sealed under a data key, and the data key is sealed under the KMS master
// key (or kept base64-wrapped in local mode, which is development only).
type EncryptedField struct {
	Ciphertext   string `json:"ciphertext"`
	EncryptedDEK string `json:"encrypted_dek"`
	KeyID        string `json:"key_id"`
}

// Manager performs envelope encryption of PII fields at rest.
type Manager struct {
	kmsClient *kms.Client
	config    *config.Config
	dekCache  sync.Map // encrypted DEK -> plaintext DEK
}

func NewManager(cfg *config.Config, kmsClient *kms.Client) *Manager {
	return &Manager{
		kmsClient: kmsClient,
		config:    cfg,
	}
}

type dataKey struct {
	plaintext  []byte
	ciphertext []byte
	keyID      string
}

func (m *Manager) generateDataKey(ctx context.Context) (*dataKey, error) {
	if !m.config.KMS.Enabled || m.kmsClient == nil {
		return localDataKey()
	}

	out, err := m.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(m.config.KMS.KeyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("generate data key: %w", err)
	}

	return &dataKey{
		plaintext:  out.Plaintext,
		ciphertext: out.CiphertextBlob,
		keyID:      m.config.KMS.KeyID,
	}, nil
}

// localDataKey wraps a random AES-256 key in base64. Good enough for
// development; production must run with KMS enabled.
func localDataKey() (*dataKey, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return &dataKey{
		plaintext:  key,
		ciphertext: []byte(base64.StdEncoding.EncodeToString(key)),
		keyID:      "local",
	}, nil
}

// EncryptField seals a sensitive value with AES-256-GCM under a fresh DEK.
func (m *Manager) EncryptField(ctx context.Context, plaintext string) (*EncryptedField, error) {
	dk, err := m.generateDataKey(ctx)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(dk.plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	encryptedDEK := base64.StdEncoding.EncodeToString(dk.ciphertext)

	m.dekCache.Store(encryptedDEK, dk.plaintext)

	return &EncryptedField{
		Ciphertext:   base64.StdEncoding.EncodeToString(sealed),
		EncryptedDEK: encryptedDEK,
		KeyID:        dk.keyID,
	}, nil
}

// DecryptField reverses EncryptField. Decrypted DEKs are cached so reads of
// hot rows do not round-trip to KMS.
func (m *Manager) DecryptField(ctx context.Context, field *EncryptedField) (string, error) {
	dek, err := m.resolveDEK(ctx, field)
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(field.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	if len(sealed) < gcm.NonceSize() {
		return "", ErrDecryptionFailed
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}

func (m *Manager) resolveDEK(ctx context.Context, field *EncryptedField) ([]byte, error) {
	if cached, ok := m.dekCache.Load(field.EncryptedDEK); ok {
		return cached.([]byte), nil
	}

	raw, err := base64.StdEncoding.DecodeString(field.EncryptedDEK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	var dek []byte
	if field.KeyID == "local" || !m.config.KMS.Enabled || m.kmsClient == nil {
		dek, err = base64.StdEncoding.DecodeString(string(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
	} else {
		out, kmsErr := m.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: raw})
		if kmsErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, kmsErr)
		}
		dek = out.Plaintext
	}

	m.dekCache.Store(field.EncryptedDEK, dek)
	return dek, nil
}

// ClearCache drops all cached plaintext DEKs.
func (m *Manager) ClearCache() {
	m.dekCache.Range(func(key, _ interface{}) bool {
		m.dekCache.Delete(key)
		return true
	})
}
