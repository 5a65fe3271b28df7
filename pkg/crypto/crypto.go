// Package crypto wraps the OpenPGP symmetric encryption used to mirror
// plaintext files into the encrypted root and back.
package crypto

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// config pins the symmetric cipher to AES-256; it's shared by both
// directions so a file encrypted by this package always decrypts cleanly
// with it.
var config = &packet.Config{
	DefaultCipher: packet.CipherAES256,
}

// passphrasePrompt returns an openpgp.PromptFunction that hands back
// passphrase exactly once, the way a loopback pinentry would: the caller
// already has the passphrase in hand and never wants an interactive agent
// consulted or the passphrase cached on its behalf. go-crypto has no
// separate "no symkey cache" knob the way gpgme does; supplying the
// passphrase directly through this closure, rather than through a keyring
// or cached session key, achieves the same effect.
func passphrasePrompt(passphrase []byte) openpgp.PromptFunction {
	asked := false
	return func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		if asked {
			return nil, errors.New("incorrect passphrase")
		}
		asked = true
		return passphrase, nil
	}
}

// Encrypt reads the file at srcPath and writes its OpenPGP symmetric
// encryption, under passphrase, to dstPath.
func Encrypt(srcPath, dstPath string, passphrase []byte) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}
	defer dst.Close()

	plaintextWriter, err := openpgp.SymmetricallyEncrypt(dst, passphrase, nil, config)
	if err != nil {
		return fmt.Errorf("initializing symmetric encryption: %w", err)
	}

	if _, err := io.Copy(plaintextWriter, src); err != nil {
		plaintextWriter.Close()
		return fmt.Errorf("encrypting: %w", err)
	}
	if err := plaintextWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Decrypt reads the OpenPGP symmetrically-encrypted file at srcPath and
// writes its plaintext, recovered using passphrase, to dstPath.
func Decrypt(srcPath, dstPath string, passphrase []byte) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	message, err := openpgp.ReadMessage(src, nil, passphrasePrompt(passphrase), config)
	if err != nil {
		return fmt.Errorf("reading encrypted message: %w", err)
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, message.UnverifiedBody); err != nil {
		return fmt.Errorf("decrypting: %w", err)
	}
	return nil
}

// HashFile returns the SHA-1 digest of the plaintext file at path. It is
// used only as a local equality fast path between two trusted trees we
// already control, never as a security primitive, so SHA-1's well-known
// collision weaknesses against adversarial input are irrelevant here.
func HashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hashing %s: %w", path, err)
	}
	return h.Sum(nil), nil
}

// HashEncryptedFile decrypts the symmetrically-encrypted file at path under
// passphrase and returns the SHA-1 digest of its plaintext, without writing
// the plaintext to disk. This lets the differ record a hash for the
// encrypted root that is directly comparable to HashFile's result for the
// plaintext root, which is what makes hash-based conflict elision possible
// (see DESIGN.md).
func HashEncryptedFile(path string, passphrase []byte) ([]byte, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer src.Close()

	message, err := openpgp.ReadMessage(src, nil, passphrasePrompt(passphrase), config)
	if err != nil {
		return nil, fmt.Errorf("reading encrypted message: %w", err)
	}

	h := sha1.New()
	if _, err := io.Copy(h, message.UnverifiedBody); err != nil {
		return nil, fmt.Errorf("hashing decrypted content: %w", err)
	}
	return h.Sum(nil), nil
}
