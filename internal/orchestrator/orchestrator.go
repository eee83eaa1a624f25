// ABOUTME: Change orchestration driving remote commits, reviews, and gap fixes
// ABOUTME: Coordinates the remote client, review store, catalog, and event feed

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/scribe-gateway/internal/catalog"
	"github.com/2389/scribe-gateway/internal/config"
	"github.com/2389/scribe-gateway/internal/events"
	"github.com/2389/scribe-gateway/internal/remote"
	"github.com/2389/scribe-gateway/internal/store"
)

// ErrNoGapsSelected is returned when a fix request resolves to zero known gaps
var ErrNoGapsSelected = errors.New("no known gaps selected")

// ErrNoPullRequest is returned when approving a review with no pull request
var ErrNoPullRequest = errors.New("review has no associated pull request")

// ErrReviewClosed is returned when editing a review that is no longer pending
var ErrReviewClosed = errors.New("review is no longer open")

// Config holds the orchestrator's repository targets and timing.
type Config struct {
	DocsRepo   remote.Repo
	CodeRepo   remote.Repo
	BaseBranch string

	// DelayUnit scales the simulated webhook delay after a demo trigger.
	DelayUnit time.Duration
}

// Orchestrator looks up predetermined documentation updates for changed
// source files and pushes them to the remote service, either directly or
// through a review. The multi-step remote sequences (create branch, commit
// files, open pull request) are not transactional: a failure part-way leaves
// earlier remote side effects in place.
type Orchestrator struct {
	remote  remote.Client
	store   store.Store
	catalog *catalog.Catalog
	events  *events.Broadcaster
	cfg     Config
	logger  *slog.Logger

	// now is swapped in tests for deterministic branch names
	now func() time.Time
}

// New creates an orchestrator. Pass nil logger for default.
func New(client remote.Client, st store.Store, cat *catalog.Catalog, broadcaster *events.Broadcaster, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		remote:  client,
		store:   st,
		catalog: cat,
		events:  broadcaster,
		cfg:     cfg,
		logger:  logger.With("component", "orchestrator"),
		now:     time.Now,
	}
}

// PropagateChanges looks up documentation updates for the changed source
// paths and propagates them according to the access level. Paths with no
// mapping are ignored. In direct-commit mode (high) every mapped file is
// committed to the base branch and no review is created; in review mode
// (medium) the batch becomes one branch, one pull request, and one pending
// review, which is returned.
func (o *Orchestrator) PropagateChanges(ctx context.Context, paths []string, mode string) (*store.Review, error) {
	updates := o.catalog.UpdatesFor(paths)

	o.events.Publish(events.TypeAnalyzingChanges, map[string]any{
		"changedFiles": paths,
	})

	if len(updates) == 0 {
		o.logger.Info("no documentation updates for changed files", "changed", len(paths))
		o.events.Publish(events.TypeNoUpdatesNeeded, nil)
		return nil, nil
	}

	if mode == config.AccessLevelHigh {
		return nil, o.commitDirect(ctx, updates)
	}
	return o.openReview(ctx, updates)
}

// commitDirect pushes every update straight to the base branch.
func (o *Orchestrator) commitDirect(ctx context.Context, updates []catalog.DocUpdate) error {
	for _, u := range updates {
		o.events.Publish(events.TypeCommitting, map[string]any{"file": u.Path})

		message := "docs: update " + u.Path
		if err := o.remote.CommitFile(ctx, o.cfg.DocsRepo, o.cfg.BaseBranch, u.Path, u.Content, message); err != nil {
			return err
		}

		o.events.Publish(events.TypeCommitted, map[string]any{"file": u.Path})
	}

	o.events.Publish(events.TypeDeploymentStarted, map[string]any{
		"files": len(updates),
	})
	o.logger.Info("committed documentation updates directly", "files", len(updates))
	return nil
}

// openReview stages the update batch on a new branch, opens one pull request
// for it, and records a pending review.
func (o *Orchestrator) openReview(ctx context.Context, updates []catalog.DocUpdate) (*store.Review, error) {
	branch := fmt.Sprintf("docs-update-%d", o.now().Unix())
	if err := o.remote.CreateBranch(ctx, o.cfg.DocsRepo, branch, o.cfg.BaseBranch); err != nil {
		return nil, err
	}

	files := make(map[string]store.FileChange, len(updates))
	var paths []string
	for _, u := range updates {
		message := "docs: update " + u.Path
		if err := o.remote.CommitFile(ctx, o.cfg.DocsRepo, branch, u.Path, u.Content, message); err != nil {
			return nil, err
		}

		// The seed content stands in for the prior text; unknown files
		// get an empty before
		before, _ := o.catalog.SeedContent(u.Path)
		files[u.Path] = store.FileChange{Before: before, After: u.Content}
		paths = append(paths, u.Path)
	}

	pr, err := o.remote.CreatePullRequest(ctx, o.cfg.DocsRepo, remote.PullRequestSpec{
		Title: "Documentation updates",
		Body:  "Automated documentation updates for:\n\n- " + strings.Join(paths, "\n- "),
		Head:  branch,
		Base:  o.cfg.BaseBranch,
	})
	if err != nil {
		return nil, err
	}

	return o.recordReview(ctx, files, pr, branch)
}

// ApplyGapFixes applies the selected gaps' text replacements against the
// current remote content and stages the results as one pull request backed
// by a review. Unknown gap ids are dropped; if none remain the batch is a
// client error. Target files whose content cannot be fetched are skipped.
func (o *Orchestrator) ApplyGapFixes(ctx context.Context, gapIDs []string) (*store.Review, error) {
	var gaps []catalog.Gap
	for _, id := range gapIDs {
		if g, ok := o.catalog.GapByID(id); ok {
			gaps = append(gaps, g)
		} else {
			o.logger.Warn("dropping unknown gap id", "id", id)
		}
	}
	if len(gaps) == 0 {
		return nil, ErrNoGapsSelected
	}

	// Group fixes by target file, preserving gap order within each file
	var targets []string
	byFile := make(map[string][]catalog.Gap)
	for _, g := range gaps {
		if _, seen := byFile[g.Fix.File]; !seen {
			targets = append(targets, g.Fix.File)
		}
		byFile[g.Fix.File] = append(byFile[g.Fix.File], g)
	}

	// Fetch each target once and apply its fixes in order
	contents := make(map[string]string, len(targets))
	var fetched []string
	for _, path := range targets {
		file, err := o.remote.GetFile(ctx, o.cfg.DocsRepo, path, o.cfg.BaseBranch)
		if err != nil {
			o.logger.Warn("skipping gap target, content unavailable", "file", path, "error", err)
			continue
		}
		content := file.Content
		for _, g := range byFile[path] {
			content = g.Apply(content)
		}
		contents[path] = content
		fetched = append(fetched, path)
	}
	if len(fetched) == 0 {
		return nil, fmt.Errorf("no gap target files could be read from %s", o.cfg.DocsRepo)
	}

	branch := fmt.Sprintf("gap-fix-%d", o.now().Unix())
	if err := o.remote.CreateBranch(ctx, o.cfg.DocsRepo, branch, o.cfg.BaseBranch); err != nil {
		return nil, err
	}

	files := make(map[string]store.FileChange, len(fetched))
	for _, path := range fetched {
		message := "docs: apply gap fixes to " + path
		if err := o.remote.CommitFile(ctx, o.cfg.DocsRepo, branch, path, contents[path], message); err != nil {
			return nil, err
		}
		// The prior content is not retained on this path; before stays empty
		files[path] = store.FileChange{After: contents[path]}
	}

	var lines []string
	for _, g := range gaps {
		lines = append(lines, fmt.Sprintf("- %s (%s, %s): %s", g.ID, g.Type, g.Severity, g.Description))
	}
	pr, err := o.remote.CreatePullRequest(ctx, o.cfg.DocsRepo, remote.PullRequestSpec{
		Title: fmt.Sprintf("Fix %d documentation gap(s)", len(gaps)),
		Body:  "Applies suggested fixes for:\n\n" + strings.Join(lines, "\n"),
		Head:  branch,
		Base:  o.cfg.BaseBranch,
	})
	if err != nil {
		return nil, err
	}

	review, err := o.recordReview(ctx, files, pr, branch)
	if err != nil {
		return nil, err
	}

	gapIDList := make([]string, len(gaps))
	for i, g := range gaps {
		gapIDList[i] = g.ID
	}
	o.events.Publish(events.TypeGapsFixed, map[string]any{
		"gapIds":   gapIDList,
		"reviewId": review.ID,
	})
	return review, nil
}

// recordReview persists a pending review for the staged batch and announces it.
func (o *Orchestrator) recordReview(ctx context.Context, files map[string]store.FileChange, pr *remote.PullRequest, branch string) (*store.Review, error) {
	id, err := o.store.CreateReview(ctx, &store.Review{
		Status: store.StatusPending,
		Files:  files,
	})
	if err != nil {
		return nil, fmt.Errorf("recording review: %w", err)
	}
	if err := o.store.SetPullRequest(ctx, id, pr.Number, pr.URL, branch); err != nil {
		return nil, fmt.Errorf("recording pull request on review %d: %w", id, err)
	}

	review, err := o.store.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}

	o.events.Publish(events.TypeReviewCreated, map[string]any{
		"reviewId": review.ID,
		"prNumber": pr.Number,
		"prUrl":    pr.URL,
		"files":    len(files),
	})
	o.logger.Info("review created", "id", review.ID, "pr", pr.Number, "files", len(files))
	return review, nil
}

// ApproveReview merges a pending review's pull request, best-effort deletes
// its branch, and marks the review merged. A review with no pull request is
// a client error and its status is left untouched.
func (o *Orchestrator) ApproveReview(ctx context.Context, id int64) (*store.Review, error) {
	review, err := o.store.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if review.PRNumber == nil {
		return nil, ErrNoPullRequest
	}

	if err := o.remote.MergePullRequest(ctx, o.cfg.DocsRepo, *review.PRNumber); err != nil {
		return nil, err
	}

	if review.Branch != "" {
		// Branch cleanup is best effort; an already-deleted branch is fine
		if err := o.remote.DeleteBranch(ctx, o.cfg.DocsRepo, review.Branch); err != nil {
			o.logger.Warn("failed to delete review branch", "branch", review.Branch, "error", err)
		}
	}

	if err := o.store.TransitionStatus(ctx, id, store.StatusPending, store.StatusMerged); err != nil {
		return nil, err
	}

	o.events.Publish(events.TypeReviewMerged, map[string]any{
		"reviewId": id,
		"prNumber": *review.PRNumber,
	})
	o.logger.Info("review merged", "id", id, "pr", *review.PRNumber)

	return o.store.GetReview(ctx, id)
}

// EditReviewFile replaces one file's proposed content in a still-open review
// and commits the replacement to the review's branch.
func (o *Orchestrator) EditReviewFile(ctx context.Context, id int64, path, content string) (*store.Review, error) {
	review, err := o.store.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if review.Status != store.StatusPending {
		return nil, ErrReviewClosed
	}

	if err := o.store.UpdateReviewFile(ctx, id, path, content); err != nil {
		return nil, err
	}

	if review.Branch != "" {
		message := "docs: revise " + path
		if err := o.remote.CommitFile(ctx, o.cfg.DocsRepo, review.Branch, path, content, message); err != nil {
			return nil, err
		}
	}

	o.events.Publish(events.TypeReviewUpdated, map[string]any{
		"reviewId": id,
		"file":     path,
	})
	return o.store.GetReview(ctx, id)
}

// Reset closes every open pull request in the docs repository, restores the
// seeded initial content of both repositories, and clears the review store.
func (o *Orchestrator) Reset(ctx context.Context) error {
	prs, err := o.remote.ListOpenPullRequests(ctx, o.cfg.DocsRepo)
	if err != nil {
		return err
	}
	for _, pr := range prs {
		if err := o.remote.ClosePullRequest(ctx, o.cfg.DocsRepo, pr.Number); err != nil {
			return err
		}
	}

	for _, seed := range o.catalog.Seeds {
		repo := o.cfg.DocsRepo
		if seed.Repo == "code" {
			repo = o.cfg.CodeRepo
		}
		message := "chore: restore initial content of " + seed.Path
		if err := o.remote.CommitFile(ctx, repo, o.cfg.BaseBranch, seed.Path, seed.Content, message); err != nil {
			return err
		}
	}

	if err := o.store.Clear(ctx); err != nil {
		return err
	}

	o.events.Publish(events.TypeResetComplete, nil)
	o.logger.Info("demo state reset", "closed_prs", len(prs), "restored_files", len(o.catalog.Seeds))
	return nil
}

// TriggerDemo pushes the canned code change to the code repository, then
// after the configured delay replays it as a simulated webhook on a
// background goroutine. mode is the access level in effect when the
// simulated webhook fires.
func (o *Orchestrator) TriggerDemo(ctx context.Context, mode string) error {
	trigger := o.catalog.Trigger

	message := "feat: roll users endpoint to v2"
	if err := o.remote.CommitFile(ctx, o.cfg.CodeRepo, o.cfg.BaseBranch, trigger.File, trigger.Content, message); err != nil {
		return err
	}

	o.events.Publish(events.TypeCodePushed, map[string]any{
		"file": trigger.File,
	})
	o.logger.Info("pushed demo code change", "file", trigger.File)

	// The simulated webhook outlives the trigger request
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		time.Sleep(time.Duration(trigger.WebhookDelayUnits) * o.cfg.DelayUnit)

		o.events.Publish(events.TypeWebhookReceived, map[string]any{
			"changedFiles": trigger.ChangedFiles,
			"simulated":    true,
		})
		if _, err := o.PropagateChanges(bgCtx, trigger.ChangedFiles, mode); err != nil {
			o.logger.Error("simulated webhook failed", "error", err)
		}
	}()

	return nil
}
