package models

import (
	"errors"
	"fmt"
	"strings"
)

// RetrievalMode selects which paths take part in a retrieval.
type RetrievalMode string

const (
	// ModeHybrid merges the self-managed index with the external store.
	ModeHybrid RetrievalMode = "hybrid"
	// ModeSelfOnly queries the self-managed index only.
	ModeSelfOnly RetrievalMode = "self_only"
	// ModeExternalOnly queries the external store only.
	ModeExternalOnly RetrievalMode = "external_only"
	// ModeKeywordHybrid merges the keyword index with the external store.
	ModeKeywordHybrid RetrievalMode = "keyword_hybrid"
)

// ErrInvalidQuery is returned by Validate for malformed requests.
var ErrInvalidQuery = errors.New("invalid query")

// ParseMode returns the mode named by s. Empty selects ModeHybrid.
func ParseMode(s string) (RetrievalMode, error) {
	switch m := RetrievalMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeHybrid, nil
	case ModeHybrid, ModeSelfOnly, ModeExternalOnly, ModeKeywordHybrid:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, s)
	}
}

// Weights are the per-path weights attached to merged results. Primary applies to
// the first path (self or keyword), Secondary to the external path.
type Weights struct {
	Primary   float64 `json:"self"`
	Secondary float64 `json:"external"`
}

// DefaultWeights favors the self-managed path slightly.
var DefaultWeights = Weights{Primary: 0.6, Secondary: 0.4}

// KeywordWeights is the even split used by ModeKeywordHybrid.
var KeywordWeights = Weights{Primary: 0.5, Secondary: 0.5}

// IsZero reports whether neither weight is set.
func (w Weights) IsZero() bool {
	return w.Primary == 0 && w.Secondary == 0
}

// RetrieveQuery is a retrieval request against one collection.
type RetrieveQuery struct {
	CollectionID string        `json:"-"`
	Query        string        `json:"query"`
	K            int           `json:"k,omitempty"`
	Mode         RetrievalMode `json:"mode,omitempty"`
	Weights      *Weights      `json:"weights,omitempty"`
}

// Validate normalizes the query and fills defaults. K of zero takes defaultK and
// is capped at maxK.
func (q *RetrieveQuery) Validate(defaultK, maxK int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidQuery)
	}
	if q.K < 0 {
		return fmt.Errorf("%w: k must not be negative", ErrInvalidQuery)
	}
	if q.K == 0 {
		q.K = defaultK
	}
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	mode, err := ParseMode(string(q.Mode))
	if err != nil {
		return err
	}
	q.Mode = mode
	if q.Weights != nil {
		if q.Weights.Primary < 0 || q.Weights.Secondary < 0 {
			return fmt.Errorf("%w: weights must not be negative", ErrInvalidQuery)
		}
		if q.Weights.IsZero() {
			q.Weights = nil
		}
	}
	return nil
}
