// ABOUTME: GitHub implementation of the remote Client interface
// ABOUTME: Thin pass-through to the GitHub REST API via google/go-github

package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
)

// GitHubClient implements Client against the GitHub REST API.
type GitHubClient struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewGitHubClient creates a client authenticated with a static bearer token.
// Pass nil logger for default.
func NewGitHubClient(token string, logger *slog.Logger) *GitHubClient {
	if logger == nil {
		logger = slog.Default()
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	return &GitHubClient{
		gh:     github.NewClient(httpClient),
		logger: logger.With("component", "github"),
	}
}

// GetFile reads a file's content and blob SHA at the given ref.
func (c *GitHubClient) GetFile(ctx context.Context, repo Repo, path, ref string) (*FileContent, error) {
	opts := &github.RepositoryContentGetOptions{Ref: ref}
	file, _, resp, err := c.gh.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s in %s: %w", path, repo, ErrFileNotFound)
		}
		return nil, fmt.Errorf("getting %s from %s: %w", path, repo, err)
	}
	if file == nil {
		return nil, fmt.Errorf("%s in %s is a directory, not a file", path, repo)
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s from %s: %w", path, repo, err)
	}

	return &FileContent{
		Path:    path,
		Content: content,
		SHA:     file.GetSHA(),
	}, nil
}

// CommitFile creates or updates a file on the given branch. When the file
// already exists its blob SHA is looked up first, as the update API requires.
func (c *GitHubClient) CommitFile(ctx context.Context, repo Repo, branch, path, content, message string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(content),
		Branch:  github.String(branch),
	}

	existing, err := c.GetFile(ctx, repo, path, branch)
	switch {
	case err == nil:
		opts.SHA = github.String(existing.SHA)
	case errors.Is(err, ErrFileNotFound):
		// New file, no SHA needed
	default:
		return err
	}

	_, _, err = c.gh.Repositories.UpdateFile(ctx, repo.Owner, repo.Name, path, opts)
	if err != nil {
		return fmt.Errorf("committing %s to %s@%s: %w", path, repo, branch, err)
	}

	c.logger.Debug("committed file", "repo", repo.String(), "branch", branch, "path", path)
	return nil
}

// CreateBranch creates a branch pointing at the current tip of base.
func (c *GitHubClient) CreateBranch(ctx context.Context, repo Repo, name, base string) error {
	baseRef, _, err := c.gh.Git.GetRef(ctx, repo.Owner, repo.Name, "refs/heads/"+base)
	if err != nil {
		return fmt.Errorf("reading tip of %s in %s: %w", base, repo, err)
	}

	newRef := &github.Reference{
		Ref:    github.String("refs/heads/" + name),
		Object: &github.GitObject{SHA: baseRef.Object.SHA},
	}
	if _, _, err := c.gh.Git.CreateRef(ctx, repo.Owner, repo.Name, newRef); err != nil {
		return fmt.Errorf("creating branch %s in %s: %w", name, repo, err)
	}

	c.logger.Debug("created branch", "repo", repo.String(), "branch", name, "base", base)
	return nil
}

// DeleteBranch removes a branch.
func (c *GitHubClient) DeleteBranch(ctx context.Context, repo Repo, name string) error {
	if _, err := c.gh.Git.DeleteRef(ctx, repo.Owner, repo.Name, "refs/heads/"+name); err != nil {
		return fmt.Errorf("deleting branch %s in %s: %w", name, repo, err)
	}
	return nil
}

// CreatePullRequest opens a pull request and returns its number and URL.
func (c *GitHubClient) CreatePullRequest(ctx context.Context, repo Repo, spec PullRequestSpec) (*PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Create(ctx, repo.Owner, repo.Name, &github.NewPullRequest{
		Title: github.String(spec.Title),
		Body:  github.String(spec.Body),
		Head:  github.String(spec.Head),
		Base:  github.String(spec.Base),
	})
	if err != nil {
		return nil, fmt.Errorf("opening pull request in %s: %w", repo, err)
	}

	c.logger.Info("opened pull request", "repo", repo.String(), "number", pr.GetNumber(), "url", pr.GetHTMLURL())
	return &PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
	}, nil
}

// MergePullRequest merges an open pull request.
func (c *GitHubClient) MergePullRequest(ctx context.Context, repo Repo, number int) error {
	_, _, err := c.gh.PullRequests.Merge(ctx, repo.Owner, repo.Name, number, "", nil)
	if err != nil {
		return fmt.Errorf("merging pull request #%d in %s: %w", number, repo, err)
	}
	return nil
}

// ClosePullRequest closes a pull request without merging.
func (c *GitHubClient) ClosePullRequest(ctx context.Context, repo Repo, number int) error {
	_, _, err := c.gh.PullRequests.Edit(ctx, repo.Owner, repo.Name, number, &github.PullRequest{
		State: github.String("closed"),
	})
	if err != nil {
		return fmt.Errorf("closing pull request #%d in %s: %w", number, repo, err)
	}
	return nil
}

// ListOpenPullRequests lists the repository's open pull requests.
func (c *GitHubClient) ListOpenPullRequests(ctx context.Context, repo Repo) ([]PullRequest, error) {
	prs, _, err := c.gh.PullRequests.List(ctx, repo.Owner, repo.Name, &github.PullRequestListOptions{
		State: "open",
	})
	if err != nil {
		return nil, fmt.Errorf("listing pull requests in %s: %w", repo, err)
	}

	out := make([]PullRequest, 0, len(prs))
	for _, pr := range prs {
		out = append(out, PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()})
	}
	return out, nil
}
