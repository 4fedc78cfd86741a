package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"offerwall/reconciler-service/internal/model"
)

// Store reads the current offer inventory from the offers table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Names returns the names of every live offer.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name FROM offers WHERE archived_at IS NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("query offers: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// NameSource yields the raw names of the current inventory.
type NameSource interface {
	Names(ctx context.Context) ([]string, error)
}

// LocalClassifier classifies candidates in-process against a snapshot of
// the inventory taken on every call.
type LocalClassifier struct {
	src NameSource
}

// NewLocalClassifier returns a classifier reading inventory from src.
func NewLocalClassifier(src NameSource) *LocalClassifier {
	return &LocalClassifier{src: src}
}

// Classify loads the inventory snapshot and partitions candidates.
func (l *LocalClassifier) Classify(ctx context.Context, candidates []model.CandidateOffer) (model.ClassificationResult, error) {
	names, err := l.src.Names(ctx)
	if err != nil {
		return model.ClassificationResult{}, fmt.Errorf("load inventory: %w", err)
	}
	keys := KeySet(names)
	res := Classify(candidates, keys)
	slog.Info("classified candidates",
		"inventory", len(keys), "total", res.Stats.Total,
		"have", res.Stats.Have, "dontHave", res.Stats.DontHave)
	return res, nil
}
