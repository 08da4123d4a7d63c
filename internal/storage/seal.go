package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sb1:"

var errSealedNoKey = errors.New("storage: value is sealed but no secret key is configured")

// sealer encrypts passwords at rest. A nil sealer passes values through.
type sealer struct {
	key [32]byte
}

func newSealer(secret string) (*sealer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, nil
	}
	s := &sealer{}
	if raw, err := base64.StdEncoding.DecodeString(secret); err == nil && len(raw) == 32 {
		copy(s.key[:], raw)
		return s, nil
	}
	s.key = sha256.Sum256([]byte(secret))
	return s, nil
}

func (s *sealer) seal(plain string) (string, error) {
	if s == nil {
		return plain, nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	box := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(box), nil
}

// open reverses seal. Values stored before a key was configured are returned
// unchanged.
func (s *sealer) open(v string) (string, error) {
	if !strings.HasPrefix(v, sealedPrefix) {
		return v, nil
	}
	if s == nil {
		return "", errSealedNoKey
	}
	box, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(v, sealedPrefix))
	if err != nil {
		return "", err
	}
	if len(box) < 24+secretbox.Overhead {
		return "", errors.New("storage: sealed value too short")
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	out, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return "", errors.New("storage: cannot open sealed value (wrong key?)")
	}
	return string(out), nil
}
