package audit

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SignedTrail is a Sink that keeps an append-only, Ed25519-signed record
// of every entry. Exchanges are numbered by position and entries are
// signed over a canonical JSON form, making the trail tamper-evident and
// replay-stable.
type SignedTrail struct {
	mu         sync.Mutex
	publicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
	records    []*SignedRecord
}

// SignedRecord is one signed audit entry.
type SignedRecord struct {
	Entry     Entry  `json:"entry"`
	Signature string `json:"signature"`
}

// NewSignedTrail creates a trail with a fresh Ed25519 keypair.
func NewSignedTrail() (*SignedTrail, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &SignedTrail{
		publicKey:  pub,
		privateKey: priv,
	}, nil
}

// PublicKey returns the base64-encoded verification key.
func (t *SignedTrail) PublicKey() string {
	return base64.StdEncoding.EncodeToString(t.publicKey)
}

// Record implements Sink: signs the entry and appends it.
func (t *SignedTrail) Record(e Entry) {
	sig := ed25519.Sign(t.privateKey, digest(e))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, &SignedRecord{
		Entry:     e,
		Signature: base64.StdEncoding.EncodeToString(sig),
	})
}

// Records returns a copy of the recorded entries in append order.
func (t *SignedTrail) Records() []*SignedRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*SignedRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Export bundles the trail with its verification key.
type Export struct {
	ExportedAt time.Time       `json:"exported_at"`
	PublicKey  string          `json:"public_key"`
	Records    []*SignedRecord `json:"records"`
}

// ExportTrail returns the trail for external storage or review.
func (t *SignedTrail) ExportTrail() *Export {
	return &Export{
		ExportedAt: time.Now().UTC(),
		PublicKey:  t.PublicKey(),
		Records:    t.Records(),
	}
}

// Destroy zeros the signing key. Call when the session ends.
func (t *SignedTrail) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.privateKey {
		t.privateKey[i] = 0
	}
	t.privateKey = nil
}

// Verify checks a record's signature against a base64 public key.
func Verify(record *SignedRecord, publicKeyBase64 string) (bool, error) {
	pubKeyBytes, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return false, fmt.Errorf("invalid public key: %w", err)
	}
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size: %d", len(pubKeyBytes))
	}
	sigBytes, err := base64.StdEncoding.DecodeString(record.Signature)
	if err != nil {
		return false, fmt.Errorf("invalid signature: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pubKeyBytes), digest(record.Entry), sigBytes), nil
}

// digest hashes the canonical JSON form of an entry: keys sorted, no
// extra whitespace, timestamp in RFC3339Nano.
func digest(e Entry) []byte {
	m := map[string]interface{}{
		"id":          e.ID,
		"session_key": e.SessionKey,
		"event":       e.Event,
		"exchange":    e.ExchangeNumber,
		"from":        e.FromAgent,
		"to":          e.ToAgent,
		"timestamp":   e.Timestamp.Format(time.RFC3339Nano),
	}
	for k, v := range e.Fields {
		m["field."+k] = fmt.Sprintf("%v", v)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	canonical := "{"
	for i, k := range keys {
		if i > 0 {
			canonical += ","
		}
		v, _ := json.Marshal(m[k])
		canonical += fmt.Sprintf(`"%s":%s`, k, string(v))
	}
	canonical += "}"

	hash := sha256.Sum256([]byte(canonical))
	return hash[:]
}
