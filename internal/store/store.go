// ABOUTME: Store interface and data types for scribe-gateway persistence
// ABOUTME: Defines the Review record and the Store interface for review bookkeeping

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested review does not exist
var ErrNotFound = errors.New("not found")

// ErrEmptyFiles is returned when creating a review with no file changes
var ErrEmptyFiles = errors.New("review requires at least one file change")

// ErrFileNotInReview is returned when editing a file path that is not part of the review
var ErrFileNotInReview = errors.New("file is not part of the review")

// ErrStatusConflict is returned when a status transition's precondition does not hold
var ErrStatusConflict = errors.New("review status conflict")

// Review statuses.
const (
	StatusPending = "pending"
	// StatusApproved is declared in the data model but no transition assigns
	// it today: reviews go straight from pending to merged on approval.
	StatusApproved = "approved"
	StatusMerged   = "merged"
)

// FileChange is one documentation file's before/after text pair.
type FileChange struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// Review represents one in-flight or completed documentation-change proposal.
// IDs are assigned by the store and strictly increase for the life of the
// database.
type Review struct {
	ID        int64                 `json:"id"`
	PRNumber  *int                  `json:"prNumber,omitempty"`
	PRURL     string                `json:"prUrl,omitempty"`
	Branch    string                `json:"branch,omitempty"`
	Files     map[string]FileChange `json:"files"`
	Status    string                `json:"status"`
	CreatedAt time.Time             `json:"createdAt"`
}

// Store defines the interface for review persistence. Implementations return
// copies; callers never share mutable state with the store.
type Store interface {
	// CreateReview inserts a review and returns its assigned id.
	// The review's Files map must be non-empty.
	CreateReview(ctx context.Context, review *Review) (int64, error)

	// GetReview fetches one review by id. Returns ErrNotFound if absent.
	GetReview(ctx context.Context, id int64) (*Review, error)

	// ListReviews returns reviews with the given status, oldest first.
	ListReviews(ctx context.Context, status string) ([]*Review, error)

	// SetPullRequest records the remote pull request backing a review.
	SetPullRequest(ctx context.Context, id int64, number int, url, branch string) error

	// TransitionStatus moves a review from one status to another. The
	// transition only succeeds if the review currently has status from;
	// otherwise ErrStatusConflict is returned.
	TransitionStatus(ctx context.Context, id int64, from, to string) error

	// UpdateReviewFile replaces the After content of one file in a review.
	// Returns ErrFileNotInReview if the path is not part of the review.
	UpdateReviewFile(ctx context.Context, id int64, path, after string) error

	// Clear removes every review.
	Clear(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
