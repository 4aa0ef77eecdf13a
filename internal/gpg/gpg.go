// Package gpg wraps ProtonMail/go-crypto as the flatmirror core's
// GpgVerifier collaborator: an opaque capability that checks detached and
// inline/clearsigned signatures against a trusted public keyring.
package gpg

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
)

// ErrSignature is the sentinel every verification failure wraps, matching
// the core's SignatureError kind: the collaborator either succeeds or
// fails, with no intermediate state surfaced to the caller.
var ErrSignature = fmt.Errorf("gpg: signature verification failed")

// Verifier checks signatures against a fixed public keyring. It has no
// other state and is safe for concurrent use by multiple readers, since it
// never mutates the keyring after construction.
type Verifier struct {
	keyring openpgp.EntityList
}

// NewVerifier reads an ASCII-armored public keyring from keyPath.
func NewVerifier(keyPath string) (*Verifier, error) {
	f, err := os.Open(keyPath)
	if err != nil {
		return nil, fmt.Errorf("gpg: open keyring %s: %w", keyPath, err)
	}
	defer f.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("gpg: parse keyring %s: %w", keyPath, err)
	}
	return &Verifier{keyring: keyring}, nil
}

// CheckDetached verifies that the detached signature at sigPath was
// produced over dataPath's contents by a key in the verifier's keyring.
func (v *Verifier) CheckDetached(sigPath, dataPath string) error {
	sig, err := os.Open(sigPath)
	if err != nil {
		return fmt.Errorf("gpg: open signature %s: %w", sigPath, err)
	}
	defer sig.Close()

	data, err := os.Open(dataPath)
	if err != nil {
		return fmt.Errorf("gpg: open data %s: %w", dataPath, err)
	}
	defer data.Close()

	if _, err := openpgp.CheckArmoredDetachedSignature(v.keyring, data, sig, nil); err != nil {
		return fmt.Errorf("gpg: %s against %s: %w: %w", sigPath, dataPath, ErrSignature, err)
	}
	return nil
}

// CheckInline verifies an inline/clearsigned document at ascPath and
// returns its plaintext body on success.
func (v *Verifier) CheckInline(ascPath string) ([]byte, error) {
	raw, err := os.ReadFile(ascPath)
	if err != nil {
		return nil, fmt.Errorf("gpg: open %s: %w", ascPath, err)
	}

	block, _ := clearsign.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("gpg: %s is not a clearsigned message: %w", ascPath, ErrSignature)
	}

	if _, err := openpgp.CheckDetachedSignature(v.keyring, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body, nil); err != nil {
		return nil, fmt.Errorf("gpg: %s: %w: %w", ascPath, ErrSignature, err)
	}
	return block.Plaintext, nil
}
