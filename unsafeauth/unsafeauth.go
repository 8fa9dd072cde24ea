// Package unsafeauth implements the scrypt-hashed credential gate required
// before any "unsafe" mode write, grounded on the Python original's
// unsafe.py. candiag never prompts for a password itself; it only hashes,
// persists, and verifies one supplied by the caller.
package unsafeauth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/scrypt"
)

// KDF parameters.
const (
	ScryptN = 1 << 14
	ScryptR = 8
	ScryptP = 1
	KeyLen = 32
	SaltLen = 16
)

// Hash is the on-disk representation of a configured unsafe password.
type Hash struct {
	SaltB64 string `json:"salt_b64"`
	N int `json:"n"`
	R int `json:"r"`
	P int `json:"p"`
	DKLen int `json:"dklen"`
	HashB64 string `json:"hash_b64"`
}

// Error is the safety-family error for a missing/invalid unsafe password.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "unsafeauth: " + e.Msg }

// HashPassword derives a new Hash for password using a fresh random salt.
func HashPassword(password string) (*Hash, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("unsafeauth: generating salt: %w", err)
	}
	key, err := scrypt.Key([]byte(password), salt, ScryptN, ScryptR, ScryptP, KeyLen)
	if err != nil {
		return nil, fmt.Errorf("unsafeauth: deriving key: %w", err)
	}
	return &Hash{
		SaltB64: base64.StdEncoding.EncodeToString(salt),
		N: ScryptN,
		R: ScryptR,
		P: ScryptP,
		DKLen: KeyLen,
		HashB64: base64.StdEncoding.EncodeToString(key),
	}, nil
}

// Save persists h as JSON at path.
func Save(path string, h *Hash) error {
	data, err := json.MarshalIndent(h, "", " ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Load reads a Hash from path.
func Load(path string) (*Hash, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Msg: "no unsafe password configured"}
		}
		return nil, &Error{Msg: err.Error()}
	}
	var h Hash
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, &Error{Msg: "invalid password hash file: " + err.Error()}
	}
	return &h, nil
}

// Verify constant-time-compares password's derived key against h.
func Verify(h *Hash, password string) (bool, error) {
	salt, err := base64.StdEncoding.DecodeString(h.SaltB64)
	if err != nil {
		return false, &Error{Msg: "invalid stored salt"}
	}
	expected, err := base64.StdEncoding.DecodeString(h.HashB64)
	if err != nil {
		return false, &Error{Msg: "invalid stored hash"}
	}
	got, err := scrypt.Key([]byte(password), salt, h.N, h.R, h.P, h.DKLen)
	if err != nil {
		return false, fmt.Errorf("unsafeauth: deriving key: %w", err)
	}
	return subtle.ConstantTimeCompare(got, expected) == 1, nil
}

// RequirePassword loads the configured hash from path and verifies
// password against it, returning a safety-family *Error on any failure
// (missing config, wrong password) so callers can surface a uniform
// "unsafe mode requires a valid password" failure.
func RequirePassword(path, password string) error {
	h, err := Load(path)
	if err != nil {
		return err
	}
	ok, err := Verify(h, password)
	if err != nil {
		return err
	}
	if !ok {
		return &Error{Msg: "incorrect unsafe password"}
	}
	return nil
}

// IsConfigured reports whether a password hash exists at path.
func IsConfigured(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
