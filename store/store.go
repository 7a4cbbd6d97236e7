// Package store archives completed research sessions. Persistence is an
// external collaborator of the engine: callers save the FinalAnswer after a
// run if they want history, and the engine itself never touches a store.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sweetpotato0/deepresearch/research"
	"github.com/sweetpotato0/deepresearch/search"
)

// Record is one archived research session.
type Record struct {
	ID           string           `json:"id" bson:"_id"`
	Question     string           `json:"question" bson:"question"`
	Answer       string           `json:"answer" bson:"answer"`
	Sources      []search.Source  `json:"sources" bson:"sources"`
	Loops        int              `json:"loops" bson:"loops"`
	TotalQueries int              `json:"total_queries" bson:"total_queries"`
	Forced       bool             `json:"forced" bson:"forced"`
	Warnings     []search.Warning `json:"warnings,omitempty" bson:"warnings,omitempty"`
	CreatedAt    time.Time        `json:"created_at" bson:"created_at"`
}

// NewRecord builds an archive record from a completed session.
func NewRecord(final *research.FinalAnswer) *Record {
	return &Record{
		ID:           fmt.Sprintf("session:%d", time.Now().UnixNano()),
		Question:     final.Question,
		Answer:       final.Answer,
		Sources:      final.Sources,
		Loops:        final.Loops,
		TotalQueries: final.TotalQueries,
		Forced:       final.Forced,
		Warnings:     final.Warnings,
		CreatedAt:    time.Now(),
	}
}

// Store archives and retrieves session records. Implementations must be safe
// for concurrent use.
type Store interface {
	// Save upserts a record by ID.
	Save(ctx context.Context, rec *Record) error
	// Get retrieves a record by ID; errors.ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Record, error)
	// Search returns records whose question matches the query, newest first.
	// An empty query returns everything.
	Search(ctx context.Context, query string) ([]*Record, error)
	// Delete removes a record by ID; errors.ErrNotFound when absent.
	Delete(ctx context.Context, id string) error
	// Count returns the number of archived records.
	Count(ctx context.Context) (int, error)
}
