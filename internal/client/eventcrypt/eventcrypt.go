// Package eventcrypt encrypts journal entries at the sync boundary.
//
// Every device derives one data encryption key (DEK) per time slot from
// its own secret. An entry is sealed once with AES-GCM under the DEK of the
// slot it is pushed in, with the entry id as additional data, and the DEK
// is wrapped for every recipient device. The server stores one persisted
// entry per recipient, each with the same ciphertext and its own wrap.
package eventcrypt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/vaultsync/internal/client/models"
	"github.com/dmitrijs2005/vaultsync/internal/common"
	"github.com/dmitrijs2005/vaultsync/internal/cryptox"
	pb "github.com/dmitrijs2005/vaultsync/internal/proto"
)

const DefaultSlotWidth = 24 * time.Hour

// unwrapCacheSize bounds the unwrapped DEKs kept per Cipher.
const unwrapCacheSize = 256

var ErrNoEnvelope = errors.New("no key envelope for this device")

// TimeSlot is t in whole multiples of width since the Unix epoch.
func TimeSlot(t time.Time, width time.Duration) int64 {
	if width < time.Second {
		width = DefaultSlotWidth
	}
	return t.Unix() / int64(width/time.Second)
}

// Keys is the device key material a Cipher works with.
type Keys struct {
	// PublicKey is the encoded X25519 public key of this device.
	PublicKey  string
	PrivateKey []byte
	// Secret seeds the per-slot DEKs.
	Secret []byte
}

type wrapKey struct {
	slot      int64
	recipient string
}

// sealedEntry is the plaintext inside EncryptedEntry.
type sealedEntry struct {
	EntryID   string          `json:"entryId"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Cipher is safe for concurrent use.
type Cipher struct {
	keys  Keys
	width time.Duration
	now   func() time.Time

	mu      sync.Mutex
	deks    map[int64][]byte
	wraps   map[wrapKey][]byte
	unwraps map[string][]byte
	wiped   bool
}

func New(keys Keys, width time.Duration) *Cipher {
	if width < time.Second {
		width = DefaultSlotWidth
	}
	return &Cipher{
		keys:    keys,
		width:   width,
		now:     time.Now,
		deks:    make(map[int64][]byte),
		wraps:   make(map[wrapKey][]byte),
		unwraps: make(map[string][]byte),
	}
}

func (c *Cipher) PublicKey() string { return c.keys.PublicKey }

// GenerateDEK returns the DEK of slot. It is deterministic per device.
func (c *Cipher) GenerateDEK(slot int64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dekLocked(slot)
}

func (c *Cipher) dekLocked(slot int64) ([]byte, error) {
	if c.wiped {
		return nil, common.ErrorUnauthorized
	}
	if dek, ok := c.deks[slot]; ok {
		return dek, nil
	}
	dek, err := cryptox.HKDF(c.keys.Secret, nil, []byte("dek/"+strconv.FormatInt(slot, 10)), cryptox.KeySize)
	if err != nil {
		return nil, err
	}
	c.deks[slot] = dek
	return dek, nil
}

func (c *Cipher) wrapLocked(slot int64, dek []byte, recipient string) ([]byte, error) {
	k := wrapKey{slot: slot, recipient: recipient}
	if w, ok := c.wraps[k]; ok {
		return w, nil
	}
	pub, err := cryptox.DecodePublicKey(recipient)
	if err != nil {
		return nil, fmt.Errorf("recipient %s: %w", cryptox.PublicKeyHash(recipient), err)
	}
	w, err := cryptox.WrapKey(pub, dek)
	if err != nil {
		return nil, err
	}
	c.wraps[k] = w
	return w, nil
}

// Encrypt seals e for every recipient public key. This device is always a
// recipient; duplicates are ignored.
func (c *Cipher) Encrypt(e *models.Entry, recipients []string) (*pb.Entry, error) {
	if e.EntryID == "" {
		return nil, fmt.Errorf("entry without id: %w", common.ErrorBadRequest)
	}
	plain, err := json.Marshal(sealedEntry{
		EntryID:   e.EntryID,
		EventType: e.EventType,
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plain)

	c.mu.Lock()
	defer c.mu.Unlock()

	slot := TimeSlot(c.now(), c.width)
	dek, err := c.dekLocked(slot)
	if err != nil {
		return nil, err
	}

	ct, iv, err := cryptox.Seal(dek, plain, []byte(e.EntryID))
	if err != nil {
		return nil, err
	}

	out := &pb.Entry{EntryID: e.EntryID, IV: iv, EncryptedEntry: ct}
	seen := make(map[string]bool, len(recipients)+1)
	for _, r := range append([]string{c.keys.PublicKey}, recipients...) {
		if seen[r] {
			continue
		}
		seen[r] = true
		w, err := c.wrapLocked(slot, dek, r)
		if err != nil {
			return nil, err
		}
		out.Keys = append(out.Keys, pb.Envelope{PublicKey: r, EncryptedDEK: w})
	}
	return out, nil
}

func (c *Cipher) envelope(p *pb.Entry) ([]byte, error) {
	if len(p.EncryptedDEK) > 0 {
		return p.EncryptedDEK, nil
	}
	for _, k := range p.Keys {
		if k.PublicKey == c.keys.PublicKey {
			return k.EncryptedDEK, nil
		}
	}
	return nil, ErrNoEnvelope
}

func (c *Cipher) unwrapLocked(wrapped []byte) ([]byte, error) {
	if dek, ok := c.unwraps[string(wrapped)]; ok {
		return dek, nil
	}
	dek, err := cryptox.UnwrapKey(c.keys.PrivateKey, wrapped)
	if err != nil {
		return nil, err
	}
	if len(c.unwraps) >= unwrapCacheSize {
		clear(c.unwraps)
	}
	c.unwraps[string(wrapped)] = dek
	return dek, nil
}

// Decrypt opens an entry addressed to this device. The result carries the
// server sequence as RemoteSequence.
func (c *Cipher) Decrypt(p *pb.Entry) (*models.Entry, error) {
	c.mu.Lock()
	if c.wiped {
		c.mu.Unlock()
		return nil, common.ErrorUnauthorized
	}
	wrapped, err := c.envelope(p)
	if err != nil {
		c.mu.Unlock()
		return nil, &DecryptDEKError{EntryID: p.EntryID, Err: err}
	}
	dek, err := c.unwrapLocked(wrapped)
	c.mu.Unlock()
	if err != nil {
		return nil, &DecryptDEKError{EntryID: p.EntryID, Err: err}
	}

	plain, err := cryptox.Open(dek, p.EncryptedEntry, p.IV, []byte(p.EntryID))
	if err != nil {
		return nil, &DecryptionError{EntryID: p.EntryID, Err: err}
	}
	defer common.WipeByteArray(plain)

	var se sealedEntry
	if err := json.Unmarshal(plain, &se); err != nil {
		return nil, &DecryptionError{EntryID: p.EntryID, Err: err}
	}
	if se.EntryID != p.EntryID {
		return nil, &DecryptionError{EntryID: p.EntryID, Err: fmt.Errorf("sealed id %q", se.EntryID)}
	}
	return &models.Entry{
		EntryID:        se.EntryID,
		EventType:      se.EventType,
		Payload:        se.Payload,
		CreatedAt:      se.CreatedAt,
		RemoteSequence: p.Sequence,
	}, nil
}

// Wipe zeroes cached keys. The Cipher refuses further use.
func (c *Cipher) Wipe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.deks {
		common.WipeByteArray(k)
	}
	for _, k := range c.unwraps {
		common.WipeByteArray(k)
	}
	common.WipeByteArray(c.keys.Secret)
	common.WipeByteArray(c.keys.PrivateKey)
	clear(c.deks)
	clear(c.wraps)
	clear(c.unwraps)
	c.wiped = true
}
