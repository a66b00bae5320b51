// Package security seals valuation reports into tamper-evident, signed certificates.
package security

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/vehicle-valuation/internal/model"
)

// Algorithm names the signature scheme stamped on certificates
const Algorithm = "secp256k1-keccak256"

var (
	// ErrSigningDisabled is returned when sealing is requested but not enabled
	ErrSigningDisabled = errors.New("report signing disabled")

	// ErrInvalidCertificate is the sentinel behind every verification failure
	ErrInvalidCertificate = errors.New("invalid certificate")
)

// Options configures report signing
type Options struct {
	Enabled           bool          `json:"enabled"`
	SignatureValidity time.Duration `json:"signature_validity"`
	// PrivateKeyHex is a hex secp256k1 key; empty generates an ephemeral key
	PrivateKeyHex string `json:"-"`
}

// Certificate wraps a report with its hashes and an issuer signature.
type Certificate struct {
	Payload    json.RawMessage `json:"payload"`
	SHA256     string          `json:"sha256"`
	Keccak256  string          `json:"keccak256"`
	Signature  string          `json:"signature"`
	PublicKey  string          `json:"public_key"`
	Issuer     string          `json:"issuer"`
	Algorithm  string          `json:"algorithm"`
	IssuedAt   time.Time       `json:"issued_at"`
	ValidUntil time.Time       `json:"valid_until"`
}

// Signer seals and verifies report certificates
type Signer struct {
	privateKey *ecdsa.PrivateKey
	publicKey  []byte
	opts       Options
	now        func() time.Time
}

// NewSigner creates a signer from opts
func NewSigner(opts Options) (*Signer, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	if opts.PrivateKeyHex != "" {
		key, err = crypto.HexToECDSA(opts.PrivateKeyHex)
	} else {
		key, err = crypto.GenerateKey()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	if opts.SignatureValidity <= 0 {
		opts.SignatureValidity = 30 * 24 * time.Hour
	}

	s := &Signer{
		privateKey: key,
		publicKey:  crypto.FromECDSAPub(&key.PublicKey),
		opts:       opts,
		now:        time.Now,
	}
	if opts.Enabled {
		logrus.WithField("issuer", s.Issuer()).Info("Report signer initialized")
	}
	return s, nil
}

// WithClock replaces the wall clock
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Enabled reports whether sealing is switched on
func (s *Signer) Enabled() bool {
	return s.opts.Enabled
}

// Issuer returns the address derived from the signing key
func (s *Signer) Issuer() string {
	return crypto.PubkeyToAddress(s.privateKey.PublicKey).Hex()
}

// PublicKey returns the hex-encoded uncompressed public key
func (s *Signer) PublicKey() string {
	return hexutil.Encode(s.publicKey)
}

// SealReport wraps a valuation result in a signed certificate
func (s *Signer) SealReport(result model.ValuationResult) (Certificate, error) {
	if !s.opts.Enabled {
		return Certificate{}, ErrSigningDisabled
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return Certificate{}, fmt.Errorf("failed to marshal report: %w", err)
	}

	issued := s.now().UTC().Truncate(time.Second)
	cert := Certificate{
		Payload:    payload,
		SHA256:     fmt.Sprintf("%x", sha256.Sum256(payload)),
		Keccak256:  crypto.Keccak256Hash(payload).Hex(),
		PublicKey:  s.PublicKey(),
		Issuer:     s.Issuer(),
		Algorithm:  Algorithm,
		IssuedAt:   issued,
		ValidUntil: issued.Add(s.opts.SignatureValidity),
	}

	sig, err := crypto.Sign(digest(cert), s.privateKey)
	if err != nil {
		return Certificate{}, fmt.Errorf("failed to sign report: %w", err)
	}
	cert.Signature = hexutil.Encode(sig)
	return cert, nil
}

// Verify checks a certificate's hashes, signature, issuer and validity window.
// Certificates from other issuers are accepted as long as they are self-consistent.
func (s *Signer) Verify(cert Certificate) error {
	if cert.Algorithm != Algorithm {
		return invalid("unsupported algorithm %q", cert.Algorithm)
	}

	now := s.now()
	if now.After(cert.ValidUntil) {
		return invalid("expired at %s", cert.ValidUntil.Format(time.RFC3339))
	}

	if fmt.Sprintf("%x", sha256.Sum256(cert.Payload)) != cert.SHA256 {
		return invalid("SHA256 hash mismatch")
	}
	if crypto.Keccak256Hash(cert.Payload).Hex() != cert.Keccak256 {
		return invalid("Keccak256 hash mismatch")
	}

	sig, err := hexutil.Decode(cert.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return invalid("malformed signature")
	}
	pub, err := hexutil.Decode(cert.PublicKey)
	if err != nil {
		return invalid("malformed public key")
	}

	d := digest(cert)
	recovered, err := crypto.SigToPub(d, sig)
	if err != nil {
		return invalid("signature recovery failed: %v", err)
	}
	if !bytes.Equal(crypto.FromECDSAPub(recovered), pub) {
		return invalid("signature does not match public key")
	}
	if crypto.PubkeyToAddress(*recovered).Hex() != cert.Issuer {
		return invalid("issuer mismatch")
	}
	if !crypto.VerifySignature(pub, d, sig[:64]) {
		return invalid("signature verification failed")
	}
	return nil
}

// OpenReport verifies the certificate and decodes its report
func (s *Signer) OpenReport(cert Certificate) (model.ValuationResult, error) {
	if err := s.Verify(cert); err != nil {
		return model.ValuationResult{}, err
	}
	var result model.ValuationResult
	if err := json.Unmarshal(cert.Payload, &result); err != nil {
		return model.ValuationResult{}, invalid("undecodable payload: %v", err)
	}
	return result, nil
}

// digest binds both payload hashes and the validity window
func digest(c Certificate) []byte {
	return crypto.Keccak256(
		[]byte(c.SHA256),
		[]byte(c.Keccak256),
		[]byte(strconv.FormatInt(c.IssuedAt.Unix(), 10)),
		[]byte(strconv.FormatInt(c.ValidUntil.Unix(), 10)),
	)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCertificate, fmt.Sprintf(format, args...))
}
