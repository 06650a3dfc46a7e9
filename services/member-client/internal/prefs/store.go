// Package prefs is the encrypted on-device key-value store. The whole map is
// sealed with XChaCha20-Poly1305 under a scrypt-derived key and rewritten
// atomically on every change.
package prefs

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/bits"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/watch"
)

var (
	ErrWrongPassphrase = errors.New("prefs: wrong passphrase")
	ErrCorrupt         = errors.New("prefs: file is corrupt")
	ErrNoPassphrase    = errors.New("prefs: passphrase is required")
)

// KV is the subset used by other packages for raw persistence.
type KV interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
}

const (
	magic       = "FSP1"
	saltLen     = 16
	keyLen      = chacha20poly1305.KeySize
	headerLen   = len(magic) + 1 + saltLen
	DefaultLogN = 15
	scryptR     = 8
	scryptP     = 1
	fileMode    = 0o600
)

type Options struct {
	// Path of the sealed file. Empty keeps everything in memory.
	Path       string
	Passphrase []byte
	// ScryptN is the scrypt cost for new files; must be a power of two.
	// Zero means 1<<DefaultLogN.
	ScryptN int
}

type Store struct {
	path   string
	header []byte
	aead   cipher.AEAD

	mu       sync.Mutex
	data     map[string]string
	watchers map[string]*watch.Value[string]
}

// Open loads the store at opts.Path, creating a new empty one when the file
// does not exist yet. The file is only written on the first change.
func Open(opts Options) (*Store, error) {
	s := &Store{
		path:     opts.Path,
		data:     map[string]string{},
		watchers: map[string]*watch.Value[string]{},
	}
	if opts.Path == "" {
		return s, nil
	}
	if len(opts.Passphrase) == 0 {
		return nil, ErrNoPassphrase
	}

	raw, err := os.ReadFile(opts.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logN, err := costLog(opts.ScryptN)
		if err != nil {
			return nil, err
		}
		salt := make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		header := append(append([]byte(magic), logN), salt...)
		if err := s.init(header, opts.Passphrase); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("prefs: read %s: %w", opts.Path, err)
	}

	if len(raw) < headerLen+chacha20poly1305.NonceSizeX || !bytes.Equal(raw[:len(magic)], []byte(magic)) {
		return nil, ErrCorrupt
	}
	if err := s.init(raw[:headerLen], opts.Passphrase); err != nil {
		return nil, err
	}
	body := raw[headerLen:]
	nonce, sealed := body[:chacha20poly1305.NonceSizeX], body[chacha20poly1305.NonceSizeX:]
	plain, err := s.aead.Open(nil, nonce, sealed, s.header)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	if err := json.Unmarshal(plain, &s.data); err != nil {
		return nil, ErrCorrupt
	}
	if s.data == nil {
		s.data = map[string]string{}
	}
	return s, nil
}

// OpenMemory returns a store that is never written to disk.
func OpenMemory() *Store {
	s, _ := Open(Options{})
	return s
}

func (s *Store) init(header, passphrase []byte) error {
	logN := header[len(magic)]
	if logN < 1 || logN > 30 {
		return ErrCorrupt
	}
	salt := header[len(magic)+1:]
	key, err := scrypt.Key(passphrase, salt, 1<<logN, scryptR, scryptP, keyLen)
	if err != nil {
		return fmt.Errorf("prefs: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return err
	}
	s.header = append([]byte(nil), header...)
	s.aead = aead
	return nil
}

func costLog(n int) (byte, error) {
	if n == 0 {
		return DefaultLogN, nil
	}
	if n < 2 || n&(n-1) != 0 {
		return 0, fmt.Errorf("prefs: scrypt N must be a power of two > 1, got %d", n)
	}
	return byte(bits.TrailingZeros(uint(n))), nil
}

func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

// String returns the value for key or "" when unset.
func (s *Store) String(key string) string {
	v, _, _ := s.Get(key)
	return v
}

func (s *Store) Put(key, value string) error {
	return s.apply(map[string]*string{key: &value})
}

func (s *Store) Delete(keys ...string) error {
	changes := make(map[string]*string, len(keys))
	for _, k := range keys {
		changes[k] = nil
	}
	return s.apply(changes)
}

// apply persists a set of changes in one write; a nil value deletes the key.
// Memory and watchers are only touched once the write succeeded.
func (s *Store) apply(changes map[string]*string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]string, len(s.data)+len(changes))
	for k, v := range s.data {
		next[k] = v
	}
	for k, v := range changes {
		if v == nil {
			delete(next, k)
		} else {
			next[k] = *v
		}
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.data = next
	for k := range changes {
		if w, ok := s.watchers[k]; ok {
			w.Set(next[k])
		}
	}
	return nil
}

func (s *Store) persist(data map[string]string) error {
	if s.path == "" {
		return nil
	}
	plain, err := json.Marshal(data)
	if err != nil {
		return err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := s.aead.Seal(nonce, nonce, plain, s.header)

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".prefs-*")
	if err != nil {
		return fmt.Errorf("prefs: write: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("prefs: write: %w", err)
	}
	if _, err := tmp.Write(append(append([]byte(nil), s.header...), sealed...)); err != nil {
		tmp.Close()
		return fmt.Errorf("prefs: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("prefs: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("prefs: write: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("prefs: write: %w", err)
	}
	return nil
}

// Watch emits the current value of key ("" when unset) and every change.
func (s *Store) Watch(ctx context.Context, key string) <-chan string {
	s.mu.Lock()
	w, ok := s.watchers[key]
	if !ok {
		w = watch.NewComparable(s.data[key])
		s.watchers[key] = w
	}
	s.mu.Unlock()
	return w.Subscribe(ctx)
}
