package account

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainPlan is the hash domain for plan fingerprints. The version suffix
// allows the encoding to change without colliding with old journal rows.
const DomainPlan = "reconcilor/plan/v1"

// ImportEntry names a remote session to copy into the local store. Index is
// the session's position in the remote list; the token for the session is
// fetched by index.
type ImportEntry struct {
	ID    ID  `json:"id" yaml:"id"`
	Index int `json:"index" yaml:"index"`
}

// Plan is the convergence diff computed once per cycle.
//
// When Rebuild is set the executor destroys every remote session before the
// first create, and ToCreateRemotely starts with the local primary.
type Plan struct {
	Rebuild          bool          `json:"rebuild"`
	ToCreateRemotely []ID          `json:"to_create_remotely"`
	ToImportLocally  []ImportEntry `json:"to_import_locally"`
}

// Empty reports whether the plan has no side effects at all.
func (p Plan) Empty() bool {
	return !p.Rebuild && len(p.ToCreateRemotely) == 0 && len(p.ToImportLocally) == 0
}

// Operations returns the number of side effects the plan dispatches.
func (p Plan) Operations() int {
	n := len(p.ToCreateRemotely) + len(p.ToImportLocally)
	if p.Rebuild {
		n++
	}
	return n
}

// CanonicalMap returns the plan as a map for canonical JSON encoding.
func (p Plan) CanonicalMap() map[string]any {
	creates := make([]any, len(p.ToCreateRemotely))
	for i, id := range p.ToCreateRemotely {
		creates[i] = string(id)
	}
	imports := make([]any, len(p.ToImportLocally))
	for i, e := range p.ToImportLocally {
		imports[i] = map[string]any{
			"id":    string(e.ID),
			"index": e.Index,
		}
	}
	return map[string]any{
		"rebuild":            p.Rebuild,
		"to_create_remotely": creates,
		"to_import_locally":  imports,
	}
}

// Fingerprint returns a stable content hash of the plan.
// Format: hex(SHA256(DomainPlan + 0x00 + canonical JSON)).
func (p Plan) Fingerprint() (string, error) {
	data, err := MarshalCanonical(p.CanonicalMap())
	if err != nil {
		return "", fmt.Errorf("plan fingerprint: %w", err)
	}
	return hashWithDomain(DomainPlan, data), nil
}

// hashWithDomain computes SHA-256 with domain separation.
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
