// ABOUTME: Client interface and data types for the remote source-hosting service
// ABOUTME: Defines the five primitive operations the orchestrator drives

package remote

import (
	"context"
	"errors"
)

// ErrFileNotFound is returned when a requested file does not exist at the ref.
var ErrFileNotFound = errors.New("file not found")

// Repo identifies one remote repository.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// FileContent is the decoded content and metadata of one remote file.
type FileContent struct {
	Path    string
	Content string
	SHA     string
}

// PullRequestSpec describes a pull request to open.
type PullRequestSpec struct {
	Title string
	Body  string
	Head  string // branch carrying the changes
	Base  string // branch to merge into
}

// PullRequest is the remote service's view of an open or merged pull request.
type PullRequest struct {
	Number int
	URL    string
}

// Client wraps the source-hosting service API. Every method maps to exactly
// one remote call; failures propagate to the caller unchanged and are never
// retried.
type Client interface {
	// GetFile reads a file's content and blob SHA at the given ref.
	// An empty ref means the repository's default branch.
	GetFile(ctx context.Context, repo Repo, path, ref string) (*FileContent, error)

	// CommitFile creates or updates a file on the given branch.
	CommitFile(ctx context.Context, repo Repo, branch, path, content, message string) error

	// CreateBranch creates a branch pointing at the current tip of base.
	CreateBranch(ctx context.Context, repo Repo, name, base string) error

	// DeleteBranch removes a branch.
	DeleteBranch(ctx context.Context, repo Repo, name string) error

	// CreatePullRequest opens a pull request and returns its number and URL.
	CreatePullRequest(ctx context.Context, repo Repo, spec PullRequestSpec) (*PullRequest, error)

	// MergePullRequest merges an open pull request.
	MergePullRequest(ctx context.Context, repo Repo, number int) error

	// ClosePullRequest closes a pull request without merging.
	ClosePullRequest(ctx context.Context, repo Repo, number int) error

	// ListOpenPullRequests lists the repository's open pull requests.
	ListOpenPullRequests(ctx context.Context, repo Repo) ([]PullRequest, error)
}
