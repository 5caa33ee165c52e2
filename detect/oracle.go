package detect

import (
	"context"
	"time"
)

// Work identifies one published content unit.
type Work struct {
	SubjectID   string
	Author      string
	PublishedAt time.Time
}

// Match is one similarity hit returned by the oracle. Author owns the
// matched original, not the work being analysed.
type Match struct {
	SubjectID  string
	Author     string
	Similarity float64
}

// Oracle is the external content-analysis collaborator. All calls may block
// on network I/O and must honour the supplied context.
type Oracle interface {
	// RecentWorks returns up to limit recently published works.
	RecentWorks(ctx context.Context, limit int) ([]Work, error)
	// SimilarWorks returns existing works resembling the subject, scored
	// in [0, 1].
	SimilarWorks(ctx context.Context, subjectID string, limit int) ([]Match, error)
	// QualityScore rates the subject in [0, 1].
	QualityScore(ctx context.Context, subjectID string) (float64, error)
	// Affinity scores how well two authors' audiences overlap, in [0, 1].
	Affinity(ctx context.Context, authorA, authorB string) (float64, error)
	// Momentum returns the subject's reading-velocity z-score.
	Momentum(ctx context.Context, subjectID string) (float64, error)
	// EngagementDelta returns the subject's engagement growth ratio against
	// its trailing baseline.
	EngagementDelta(ctx context.Context, subjectID string) (float64, error)
}

// FuncOracle adapts callback functions to the Oracle interface. Unset
// callbacks return zero values.
type FuncOracle struct {
	RecentWorksFunc     func(ctx context.Context, limit int) ([]Work, error)
	SimilarWorksFunc    func(ctx context.Context, subjectID string, limit int) ([]Match, error)
	QualityScoreFunc    func(ctx context.Context, subjectID string) (float64, error)
	AffinityFunc        func(ctx context.Context, authorA, authorB string) (float64, error)
	MomentumFunc        func(ctx context.Context, subjectID string) (float64, error)
	EngagementDeltaFunc func(ctx context.Context, subjectID string) (float64, error)
}

// RecentWorks delegates to the configured callback.
func (f FuncOracle) RecentWorks(ctx context.Context, limit int) ([]Work, error) {
	if f.RecentWorksFunc == nil {
		return nil, nil
	}
	return f.RecentWorksFunc(ctx, limit)
}

// SimilarWorks delegates to the configured callback.
func (f FuncOracle) SimilarWorks(ctx context.Context, subjectID string, limit int) ([]Match, error) {
	if f.SimilarWorksFunc == nil {
		return nil, nil
	}
	return f.SimilarWorksFunc(ctx, subjectID, limit)
}

// QualityScore delegates to the configured callback.
func (f FuncOracle) QualityScore(ctx context.Context, subjectID string) (float64, error) {
	if f.QualityScoreFunc == nil {
		return 0, nil
	}
	return f.QualityScoreFunc(ctx, subjectID)
}

// Affinity delegates to the configured callback.
func (f FuncOracle) Affinity(ctx context.Context, authorA, authorB string) (float64, error) {
	if f.AffinityFunc == nil {
		return 0, nil
	}
	return f.AffinityFunc(ctx, authorA, authorB)
}

// Momentum delegates to the configured callback.
func (f FuncOracle) Momentum(ctx context.Context, subjectID string) (float64, error) {
	if f.MomentumFunc == nil {
		return 0, nil
	}
	return f.MomentumFunc(ctx, subjectID)
}

// EngagementDelta delegates to the configured callback.
func (f FuncOracle) EngagementDelta(ctx context.Context, subjectID string) (float64, error) {
	if f.EngagementDeltaFunc == nil {
		return 0, nil
	}
	return f.EngagementDeltaFunc(ctx, subjectID)
}
