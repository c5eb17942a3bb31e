// Package identity authenticates callers by their Ethereum address using
// EIP-191 personal-sign signatures.
package identity

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignerMismatch   = errors.New("signature does not match signer")
	ErrStaleRequest     = errors.New("request timestamp outside allowed skew")
)

// Signer signs messages with a secp256k1 key
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a signer from a hex-encoded private key
func NewSigner(hexKey string) (*Signer, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}

	privateKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return FromKey(privateKey), nil
}

// FromKey wraps an existing private key.
func FromKey(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Generate creates a signer with a fresh random key.
func Generate() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return FromKey(key), nil
}

// Address returns the signer's Ethereum address
func (s *Signer) Address() common.Address {
	return s.address
}

// SignMessage signs a message with EIP-191 personal sign prefix
func (s *Signer) SignMessage(message []byte) ([]byte, error) {
	hash := accounts.TextHash(message)
	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, err
	}

	// Adjust v value for Ethereum (27 or 28)
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SignMessageHex signs a message and returns hex-encoded signature
func (s *Signer) SignMessageHex(message []byte) (string, error) {
	sig, err := s.SignMessage(message)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// Recover returns the address that produced sigHex over message.
func Recover(message []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}

	// Adjust v value back
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// VerifySignature verifies a signature against a message and address
func VerifySignature(message []byte, sigHex string, expected common.Address) error {
	addr, err := Recover(message, sigHex)
	if err != nil {
		return err
	}
	if addr != expected {
		return ErrSignerMismatch
	}
	return nil
}

// RequestMessage is the payload a client signs for an API call:
//
//	METHOD PATH\nUNIX_SECONDS\nBODY
func RequestMessage(method, path string, ts int64, body []byte) []byte {
	head := method + " " + path + "\n" + strconv.FormatInt(ts, 10) + "\n"
	return append([]byte(head), body...)
}

// SignRequest returns the timestamp and signature headers for a request.
func (s *Signer) SignRequest(method, path string, now time.Time, body []byte) (ts string, sig string, err error) {
	unix := now.Unix()
	sig, err = s.SignMessageHex(RequestMessage(method, path, unix, body))
	if err != nil {
		return "", "", err
	}
	return strconv.FormatInt(unix, 10), sig, nil
}

// VerifyRequest checks that sigHex over the request was produced by signer
// and that ts is within maxSkew of now.
func VerifyRequest(method, path, ts string, body []byte, sigHex string, signer common.Address, now time.Time, maxSkew time.Duration) error {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrStaleRequest)
	}
	if d := now.Sub(time.Unix(unix, 0)); d > maxSkew || d < -maxSkew {
		return ErrStaleRequest
	}
	return VerifySignature(RequestMessage(method, path, unix, body), sigHex, signer)
}
