// Package snapshot persists versioned matrix snapshots for external callers.
//
// The engine itself never touches disk; this package is the boundary
// adapter that lets an embedding application park expensive artifacts (the
// ground-distance matrix, the substitution matrix) between runs and detect
// staleness without rebuilding. Every snapshot records the catalog
// fingerprint it was built from:
//
//	{version, built_from_catalog_hash, matrix_data}
//
// Load compares that fingerprint against the caller's current catalog hash
// and returns ErrStale on mismatch, the retryable signal to rebuild and
// re-persist.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/barsmith/mixmetric/pkg/metric"
	"github.com/barsmith/mixmetric/pkg/subst"
)

var (
	// ErrNotFound is returned when no snapshot exists under the given kind.
	ErrNotFound = errors.New("snapshot: not found")

	// ErrStale is returned when a stored snapshot was built from a catalog
	// state that no longer matches the caller's. Retryable: rebuild, Put,
	// and Load again.
	ErrStale = errors.New("snapshot: built from a stale catalog")
)

// Well-known snapshot kinds.
const (
	KindDistanceMatrix     = "distance_matrix"
	KindSubstitutionMatrix = "substitution_matrix"
)

// Snapshot is the persisted envelope.
type Snapshot struct {
	Version              string          `json:"version"`
	BuiltFromCatalogHash string          `json:"built_from_catalog_hash"`
	CreatedAt            time.Time       `json:"created_at"`
	MatrixData           json.RawMessage `json:"matrix_data"`
}

// Store persists snapshots by kind. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put stores snap under kind, replacing any previous snapshot.
	Put(ctx context.Context, kind string, snap Snapshot) error

	// Load returns the snapshot stored under kind. When currentCatalogHash
	// is non-empty and differs from the stored built_from_catalog_hash, it
	// fails with ErrStale.
	Load(ctx context.Context, kind string, currentCatalogHash string) (Snapshot, error)

	// Close releases underlying resources.
	Close() error
}

// DistanceMatrixData is the matrix_data payload for KindDistanceMatrix:
// a row-major symmetric matrix over the sorted id universe.
type DistanceMatrixData struct {
	IDs  []string  `json:"ids"`
	Data []float64 `json:"data"`
}

// FromDistanceMatrix wraps a ground-distance matrix into a Snapshot.
func FromDistanceMatrix(m *metric.Matrix) (Snapshot, error) {
	ids := m.IDs()
	n := len(ids)
	payload := DistanceMatrixData{IDs: ids, Data: make([]float64, 0, n*n)}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			payload.Data = append(payload.Data, m.At(i, j))
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Version:              m.Key(),
		BuiltFromCatalogHash: m.TreeVersion(),
		CreatedAt:            time.Now().UTC(),
		MatrixData:           raw,
	}, nil
}

// DecodeDistanceMatrix unpacks a KindDistanceMatrix payload.
func DecodeDistanceMatrix(snap Snapshot) (DistanceMatrixData, error) {
	var payload DistanceMatrixData
	if err := json.Unmarshal(snap.MatrixData, &payload); err != nil {
		return DistanceMatrixData{}, err
	}
	return payload, nil
}

// SubstitutionMatrixData is the matrix_data payload for
// KindSubstitutionMatrix: the frozen counts a substitution matrix is
// derived from. Scores are recomputed on load rather than persisted, so the
// smoothing setting stays a runtime decision.
type SubstitutionMatrixData struct {
	Recipes   int64             `json:"recipes"`
	Pairs     []subst.PairCount `json:"pairs"`
	Marginals map[string]int64  `json:"marginals"`
}

// FromSubstitutionMatrix wraps a substitution-score snapshot into a
// Snapshot. The catalog hash is supplied by the caller; substitution counts
// are corpus-derived and outlive catalog restructuring, but recording the
// hash lets loaders detect catalogs the corpus no longer matches.
func FromSubstitutionMatrix(m *subst.Matrix, catalogHash string) (Snapshot, error) {
	payload := SubstitutionMatrixData{
		Recipes:   m.Recipes(),
		Pairs:     m.PairCounts(),
		Marginals: make(map[string]int64),
	}
	for _, id := range m.Ingredients() {
		payload.Marginals[id] = m.Marginal(id)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Version:              fmt.Sprintf("subst-%d", m.Version()),
		BuiltFromCatalogHash: catalogHash,
		CreatedAt:            time.Now().UTC(),
		MatrixData:           raw,
	}, nil
}

// DecodeSubstitutionMatrix unpacks a KindSubstitutionMatrix payload.
func DecodeSubstitutionMatrix(snap Snapshot) (SubstitutionMatrixData, error) {
	var payload SubstitutionMatrixData
	if err := json.Unmarshal(snap.MatrixData, &payload); err != nil {
		return SubstitutionMatrixData{}, err
	}
	return payload, nil
}
