// Package custodian manages one asymmetric keypair per originator and uses
// it to wrap and unwrap small secrets (symmetric keys and storage locators).
// The private half never leaves the key directory; the decrypting party is
// the originator, not a central authority.
package custodian

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/collapsinghierarchy/papervault/model"
)

const (
	// MinKeyBits is the weakest modulus the custodian will generate.
	MinKeyBits = 2048

	privateSuffix = "_private_key.pem"
	publicSuffix  = "_public_key.pem"
)

var (
	// ErrUnwrap covers a missing or corrupt private key file and any
	// ciphertext that fails to decrypt. Always fatal to the operation.
	ErrUnwrap = errors.New("custodian: unwrap failed")
	// ErrFieldTooLarge is returned when a wrap field exceeds the OAEP
	// plaintext ceiling for the originator's modulus. Callers must wrap
	// only keys and locators, never documents.
	ErrFieldTooLarge = errors.New("custodian: field exceeds OAEP size limit")
	// ErrBadOriginator rejects originator ids that are empty or not safe
	// to use as a file name.
	ErrBadOriginator = errors.New("custodian: invalid originator id")
)

// Config configures a Custodian.
type Config struct {
	// Dir is the access-restricted directory holding one PEM pair per
	// originator.
	Dir string
	// KeyBits is the RSA modulus size; raised to MinKeyBits if lower.
	KeyBits int
	// Logger is optional; a default stderr logger is used when nil.
	Logger *logrus.Logger
}

// Custodian generates keypairs lazily on first wrap and serializes
// generation per originator, so concurrent first use yields one keypair.
type Custodian struct {
	dir     string
	keyBits int
	log     *logrus.Logger
	group   singleflight.Group
}

// New creates the key directory (0700) if needed and returns a Custodian.
func New(cfg Config) (*Custodian, error) {
	if cfg.Dir == "" {
		return nil, errors.New("custodian: key directory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.KeyBits < MinKeyBits {
		cfg.KeyBits = MinKeyBits
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("custodian: create key dir: %w", err)
	}
	return &Custodian{dir: cfg.Dir, keyBits: cfg.KeyBits, log: cfg.Logger}, nil
}

// EnsureKeypair returns the originator's public key, generating and
// persisting a fresh keypair on first use. Generation is serialized per
// originator id; losers of the race read the winner's key.
func (c *Custodian) EnsureKeypair(originatorID string) (*rsa.PublicKey, error) {
	if err := checkOriginator(originatorID); err != nil {
		return nil, err
	}
	v, err, _ := c.group.Do(originatorID, func() (interface{}, error) {
		if pub, err := c.loadPublic(originatorID); err == nil {
			return pub, nil
		}
		return c.generate(originatorID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*rsa.PublicKey), nil
}

// Wrap encrypts each field independently under the originator's public key
// with RSA-OAEP/SHA-256. Field order is preserved in the result.
func (c *Custodian) Wrap(originatorID string, fields [][]byte) (model.WrappedSecret, error) {
	pub, err := c.EnsureKeypair(originatorID)
	if err != nil {
		return nil, err
	}
	limit := pub.Size() - 2*sha256.Size - 2
	out := make(model.WrappedSecret, 0, len(fields))
	for i, f := range fields {
		if len(f) > limit {
			return nil, fmt.Errorf("%w: field %d is %d bytes, limit %d", ErrFieldTooLarge, i, len(f), limit)
		}
		ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, f, nil)
		if err != nil {
			return nil, fmt.Errorf("custodian: wrap field %d: %w", i, err)
		}
		out = append(out, ct)
	}
	return out, nil
}

// Unwrap decrypts every field of a wrapped secret with the originator's
// private key. Any failure surfaces as ErrUnwrap.
func (c *Custodian) Unwrap(originatorID string, wrapped model.WrappedSecret) ([][]byte, error) {
	if err := checkOriginator(originatorID); err != nil {
		return nil, err
	}
	priv, err := c.loadPrivate(originatorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrap, err)
	}
	out := make([][]byte, 0, len(wrapped))
	for i, ct := range wrapped {
		pt, err := rsa.DecryptOAEP(sha256.New(), nil, priv, ct, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d: %v", ErrUnwrap, i, err)
		}
		out = append(out, pt)
	}
	return out, nil
}

// PublicKeyPEM returns the originator's public key in PEM form, for
// publication. The keypair is created if it does not exist yet.
func (c *Custodian) PublicKeyPEM(originatorID string) ([]byte, error) {
	pub, err := c.EnsureKeypair(originatorID)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("custodian: marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func (c *Custodian) generate(originatorID string) (*rsa.PublicKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, c.keyBits)
	if err != nil {
		return nil, fmt.Errorf("custodian: generate keypair: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("custodian: marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := writeFileAtomic(c.privatePath(originatorID), privPEM, 0o600); err != nil {
		return nil, fmt.Errorf("custodian: persist private key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("custodian: marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := writeFileAtomic(c.publicPath(originatorID), pubPEM, 0o644); err != nil {
		return nil, fmt.Errorf("custodian: persist public key: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"originator": originatorID,
		"bits":       c.keyBits,
	}).Info("generated keypair")
	return &priv.PublicKey, nil
}

func (c *Custodian) loadPrivate(originatorID string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(c.privatePath(originatorID))
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block in private key file")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA", key)
	}
	return priv, nil
}

func (c *Custodian) loadPublic(originatorID string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(c.publicPath(originatorID))
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block in public key file")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", key)
	}
	return pub, nil
}

func (c *Custodian) privatePath(id string) string {
	return filepath.Join(c.dir, id+privateSuffix)
}

func (c *Custodian) publicPath(id string) string {
	return filepath.Join(c.dir, id+publicSuffix)
}

// writeFileAtomic writes via a temp file and rename, so readers never see a
// partially written key and the file is never mutated in place.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".key-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func checkOriginator(id string) error {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrBadOriginator, id)
	}
	return nil
}
