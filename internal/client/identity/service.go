// Package identity manages the device identity: the recovery mnemonic, the
// X25519 keypair and DEK secret derived from it, and the namespace device
// roster.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/client/eventcrypt"
	"github.com/dmitrijs2005/vaultsync/internal/client/models"
	"github.com/dmitrijs2005/vaultsync/internal/client/repositories/audit"
	"github.com/dmitrijs2005/vaultsync/internal/client/repositories/devices"
	"github.com/dmitrijs2005/vaultsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/vaultsync/internal/logging"
)

var ErrNoIdentity = errors.New("no identity: create or import a mnemonic first")

type Service struct {
	meta    metadata.Repository
	devices devices.Repository
	audit   audit.Repository
	roster  RosterClient
	logger  logging.Logger
	now     func() time.Time

	mu      sync.RWMutex
	loaded  bool
	km      *keyMaterial
	onClear []func()

	auditWG sync.WaitGroup
}

// NewService builds the identity service. roster may be nil for offline use;
// the Sync* methods then fail.
func NewService(meta metadata.Repository, devs devices.Repository, auditLog audit.Repository, roster RosterClient, logger logging.Logger) *Service {
	return &Service{
		meta:    meta,
		devices: devs,
		audit:   auditLog,
		roster:  roster,
		logger:  logger.With("module", "identity"),
		now:     time.Now,
	}
}

// OnClear registers fn to run when the identity is cleared.
func (s *Service) OnClear(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClear = append(s.onClear, fn)
}

// withMaterial runs fn under the read lock. fn must copy anything it keeps:
// replace and Clear wipe the key bytes in place once they hold the write
// lock.
func (s *Service) withMaterial(ctx context.Context, fn func(km *keyMaterial)) error {
	s.mu.RLock()
	if !s.loaded {
		s.mu.RUnlock()
		s.mu.Lock()
		err := s.loadLocked(ctx)
		s.mu.Unlock()
		if err != nil {
			return err
		}
		s.mu.RLock()
	}
	defer s.mu.RUnlock()
	if s.km == nil {
		return ErrNoIdentity
	}
	fn(s.km)
	return nil
}

func (s *Service) loadLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	raw, ok, err := s.meta.Get(ctx, metadata.KeyMnemonic)
	if err != nil {
		return err
	}
	if ok {
		m, err := ParseMnemonic(string(raw))
		if err != nil {
			return fmt.Errorf("stored mnemonic: %w", err)
		}
		if s.km, err = derive(m); err != nil {
			return err
		}
	}
	s.loaded = true
	return nil
}

// Mnemonic returns the stored phrase, if any.
func (s *Service) Mnemonic(ctx context.Context) (Mnemonic, bool, error) {
	raw, ok, err := s.meta.Get(ctx, metadata.KeyMnemonic)
	if err != nil || !ok {
		return Mnemonic{}, false, err
	}
	m, err := ParseMnemonic(string(raw))
	if err != nil {
		return Mnemonic{}, false, fmt.Errorf("stored mnemonic: %w", err)
	}
	return m, true, nil
}

// PublicKey returns the encoded public key of this device.
func (s *Service) PublicKey(ctx context.Context) (string, error) {
	var pk string
	err := s.withMaterial(ctx, func(km *keyMaterial) { pk = km.publicKey })
	return pk, err
}

// PrivateKey returns a copy of the private key.
func (s *Service) PrivateKey(ctx context.Context) ([]byte, error) {
	var priv []byte
	err := s.withMaterial(ctx, func(km *keyMaterial) {
		priv = append([]byte(nil), km.keys.Private...)
	})
	return priv, err
}

// CipherKeys returns copies of the key material an eventcrypt.Cipher needs.
func (s *Service) CipherKeys(ctx context.Context) (eventcrypt.Keys, error) {
	var keys eventcrypt.Keys
	err := s.withMaterial(ctx, func(km *keyMaterial) {
		keys = eventcrypt.Keys{
			PublicKey:  km.publicKey,
			PrivateKey: append([]byte(nil), km.keys.Private...),
			Secret:     append([]byte(nil), km.dekSecret...),
		}
	})
	return keys, err
}

// CreateMnemonic generates a new phrase and makes it the current identity.
func (s *Service) CreateMnemonic(ctx context.Context) (Mnemonic, error) {
	m, err := RandomMnemonic()
	if err != nil {
		return Mnemonic{}, err
	}
	if err := s.replace(ctx, m); err != nil {
		return Mnemonic{}, err
	}
	s.record(ctx, models.AuditMnemonicCreated)
	return m, nil
}

// ImportFromMnemonic replaces the current identity with the one of m.
func (s *Service) ImportFromMnemonic(ctx context.Context, m Mnemonic) error {
	m, err := ParseMnemonic(m.Reveal())
	if err != nil {
		return err
	}
	if err := s.replace(ctx, m); err != nil {
		return err
	}
	s.record(ctx, models.AuditMnemonicImported)
	return nil
}

func (s *Service) replace(ctx context.Context, m Mnemonic) error {
	km, err := derive(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(ctx); err != nil {
		km.wipe()
		return err
	}
	if s.km != nil && s.km.publicKey != km.publicKey {
		// checkpoints belong to the old device stream
		if err := s.meta.DeletePrefix(ctx, metadata.KeyCheckpointPrefix); err != nil {
			km.wipe()
			return err
		}
	}
	if err := s.meta.Set(ctx, metadata.KeyMnemonic, []byte(m.Reveal())); err != nil {
		km.wipe()
		return err
	}
	s.km.wipe()
	s.km = km
	s.loaded = true
	s.logger.Info(ctx, "identity set", "mnemonic", m, "words", m.Words())
	return nil
}

// Clear stops sync, then wipes the mnemonic, key material, sync checkpoints
// and the device roster.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	hooks := append([]func(){}, s.onClear...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.meta.Delete(ctx, metadata.KeyMnemonic); err != nil {
		return err
	}
	if err := s.meta.DeletePrefix(ctx, metadata.KeyCheckpointPrefix); err != nil {
		return err
	}
	if err := s.devices.Clear(ctx); err != nil {
		return err
	}
	s.km.wipe()
	s.km = nil
	s.loaded = true

	s.logger.Info(ctx, "identity cleared")
	s.record(ctx, models.AuditIdentityCleared)
	return nil
}

// record appends an audit event in the background. Failures are logged
// only.
func (s *Service) record(ctx context.Context, event models.AuditEvent) {
	if s.audit == nil {
		return
	}
	at := s.now()
	ctx = context.WithoutCancel(ctx)
	s.auditWG.Add(1)
	go func() {
		defer s.auditWG.Done()
		if err := s.audit.Append(ctx, at, event); err != nil {
			s.logger.Warn(ctx, "audit write failed", "event", string(event), "err", err)
		}
	}()
}

// Wait blocks until pending audit writes finish.
func (s *Service) Wait() {
	s.auditWG.Wait()
}
