package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	// ErrKeystoreConflict reports an existing keystore file that holds a
	// different authority than the one being saved.
	ErrKeystoreConflict = errors.New("crypto: keystore holds a different authority")
	// ErrWrongPassphrase reports a keystore that exists but does not open
	// with the supplied passphrase.
	ErrWrongPassphrase = errors.New("crypto: wrong keystore passphrase")
	errEmptyPath       = errors.New("crypto: empty keystore path")
)

// KeystoreError ties a keystore failure to the file it concerns.
type KeystoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *KeystoreError) Error() string {
	return fmt.Sprintf("crypto: %s keystore %s: %v", e.Op, e.Path, e.Err)
}

func (e *KeystoreError) Unwrap() error { return e.Err }

// SaveToKeystore writes the voucher authority key to an Ethereum v3 keystore
// file readable only by the owner. Saving the same authority again is a
// no-op; a file holding another authority is never overwritten.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil || key.PrivateKey == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errEmptyPath
	}
	existing, err := KeystoreAddress(path)
	switch {
	case err == nil && existing == key.Address():
		return nil
	case err == nil:
		return &KeystoreError{Op: "save", Path: path, Err: ErrKeystoreConflict}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return &KeystoreError{Op: "save", Path: path, Err: err}
	}
	blob, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    key.Address(),
		PrivateKey: key.PrivateKey,
	}, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
	if err != nil {
		return &KeystoreError{Op: "encrypt", Path: path, Err: err}
	}
	if err := writeFileAtomic(path, blob); err != nil {
		return &KeystoreError{Op: "save", Path: path, Err: err}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".authority-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// KeystoreAddress reads the authority address recorded in a keystore file
// without decrypting it.
func KeystoreAddress(path string) (ethcommon.Address, error) {
	if path == "" {
		return ethcommon.Address{}, errEmptyPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ethcommon.Address{}, &KeystoreError{Op: "read", Path: path, Err: err}
	}
	var header struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return ethcommon.Address{}, &KeystoreError{Op: "read", Path: path, Err: err}
	}
	if !ethcommon.IsHexAddress(header.Address) {
		return ethcommon.Address{}, &KeystoreError{Op: "read", Path: path, Err: fmt.Errorf("invalid address %q", header.Address)}
	}
	return ethcommon.HexToAddress(header.Address), nil
}

// LoadFromKeystore decrypts the authority key stored at path.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errEmptyPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &KeystoreError{Op: "load", Path: path, Err: err}
	}
	decrypted, err := keystore.DecryptKey(raw, passphrase)
	if errors.Is(err, keystore.ErrDecrypt) {
		return nil, &KeystoreError{Op: "load", Path: path, Err: ErrWrongPassphrase}
	}
	if err != nil {
		return nil, &KeystoreError{Op: "load", Path: path, Err: err}
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
