package auth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/treyhollis/factorgate/internal/session"
)

const pendingSecretKeyPrefix = "factor:pending:"

func pendingSecretKey(factorType string) string {
	return pendingSecretKeyPrefix + factorType
}

// SecretManager issues and validates short-lived verification secrets per
// factor instance, and keeps enrollment secrets at rest AES-256-GCM
// encrypted. It also implements the secret-store cleanup contract: pending
// enrollment material parked in the session bag is cleared after every
// verification attempt.
type SecretManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string
}

// NewSecretManager creates a new secret manager.
// encryptionKey must be exactly 32 bytes for AES-256.
func NewSecretManager(encryptionKey []byte, issuer string) (*SecretManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &SecretManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

// GenerateEnrollment creates a new TOTP secret for accountName and returns
// the encrypted secret, its nonce, and a QR provisioning image as a PNG data
// URL. The plaintext secret is parked in the session bag until the first
// verification confirms the enrollment.
func (sm *SecretManager) GenerateEnrollment(factorType, accountName string, bag session.Bag) ([]byte, []byte, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      sm.issuer,
		AccountName: accountName,
		SecretSize:  32,
		Period:      30,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, nonce, err := sm.EncryptSecret([]byte(key.Secret()))
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to encrypt secret: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Highest)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to create QR code: %w", err)
	}
	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	qrDataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage)

	bag.Set(pendingSecretKey(factorType), key.Secret())

	return encrypted, nonce, qrDataURL, nil
}

// PendingSecret returns the enrollment secret parked in the session, if any.
func (sm *SecretManager) PendingSecret(factorType string, bag session.Bag) (string, bool) {
	return bag.Get(pendingSecretKey(factorType))
}

// CleanupTemporarySecrets drops any pending enrollment secret for the factor
// type from the session bag. Called after every verification attempt,
// pass or fail.
func (sm *SecretManager) CleanupTemporarySecrets(ctx context.Context, userID, factorType string, bag session.Bag) error {
	bag.Delete(pendingSecretKey(factorType))
	return nil
}

// EncryptSecret encrypts a factor secret using AES-256-GCM.
// Returns: (encryptedBytes, nonce, error)
func (sm *SecretManager) EncryptSecret(secretBytes []byte) ([]byte, []byte, error) {
	block, err := aes.NewCipher(sm.encryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, secretBytes, nil)

	return ciphertext, nonce, nil
}

// DecryptSecret decrypts an encrypted factor secret
func (sm *SecretManager) DecryptSecret(encryptedBytes, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(sm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, encryptedBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return plaintext, nil
}

// ValidateCode validates a TOTP code against a base32 secret.
// Allows ±1 time step for clock drift; lastVerifiedAt within the drift
// window rejects the code as a replay.
func (sm *SecretManager) ValidateCode(secret, code string, lastVerifiedAt *time.Time) (bool, error) {
	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}
	if !valid {
		return false, nil
	}

	if lastVerifiedAt != nil && time.Since(*lastVerifiedAt) < 90*time.Second {
		return false, fmt.Errorf("code replay detected")
	}

	return true, nil
}

// GenerateRecoveryCodes generates N random single-use recovery codes.
// Format: 8 characters from a charset excluding ambiguous glyphs (0/O, 1/I/L).
func (sm *SecretManager) GenerateRecoveryCodes(count int) ([]string, error) {
	const charset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

	codes := make([]string, count)
	buf := make([]byte, 8)
	for i := 0; i < count; i++ {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate random bytes: %w", err)
		}
		code := make([]byte, 8)
		for j := range buf {
			code[j] = charset[buf[j]%byte(len(charset))]
		}
		codes[i] = string(code)
	}

	return codes, nil
}
