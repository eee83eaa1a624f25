// ABOUTME: Tests for change orchestration against a fake remote client
// ABOUTME: Covers both access levels, gap fixes, review lifecycle, and reset

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/scribe-gateway/internal/catalog"
	"github.com/2389/scribe-gateway/internal/config"
	"github.com/2389/scribe-gateway/internal/events"
	"github.com/2389/scribe-gateway/internal/remote"
	"github.com/2389/scribe-gateway/internal/store"
)

var (
	docsRepo = remote.Repo{Owner: "demo", Name: "docs"}
	codeRepo = remote.Repo{Owner: "demo", Name: "code"}
)

type commitCall struct {
	repo    remote.Repo
	branch  string
	path    string
	content string
}

// fakeRemote records every call and serves file content from an in-memory map.
type fakeRemote struct {
	mu sync.Mutex

	files map[string]string // docs repo content by path

	commits         []commitCall
	branches        []string
	deletedBranches []string
	merged          []int
	closed          []int
	open            map[int]remote.PullRequest
	nextPR          int

	getFileErr error
	commitErr  error
	mergeErr   error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files: make(map[string]string),
		open:  make(map[int]remote.PullRequest),
	}
}

func (f *fakeRemote) GetFile(_ context.Context, _ remote.Repo, path, _ string) (*remote.FileContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getFileErr != nil {
		return nil, f.getFileErr
	}
	content, ok := f.files[path]
	if !ok {
		return nil, remote.ErrFileNotFound
	}
	return &remote.FileContent{Path: path, Content: content, SHA: "abc123"}, nil
}

func (f *fakeRemote) CommitFile(_ context.Context, repo remote.Repo, branch, path, content, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.commits = append(f.commits, commitCall{repo: repo, branch: branch, path: path, content: content})
	return nil
}

func (f *fakeRemote) CreateBranch(_ context.Context, _ remote.Repo, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches = append(f.branches, name)
	return nil
}

func (f *fakeRemote) DeleteBranch(_ context.Context, _ remote.Repo, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedBranches = append(f.deletedBranches, name)
	return nil
}

func (f *fakeRemote) CreatePullRequest(_ context.Context, _ remote.Repo, spec remote.PullRequestSpec) (*remote.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPR++
	pr := remote.PullRequest{
		Number: f.nextPR,
		URL:    fmt.Sprintf("https://example.com/%s/pull/%d", spec.Head, f.nextPR),
	}
	f.open[pr.Number] = pr
	return &pr, nil
}

func (f *fakeRemote) MergePullRequest(_ context.Context, _ remote.Repo, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeErr != nil {
		return f.mergeErr
	}
	delete(f.open, number)
	f.merged = append(f.merged, number)
	return nil
}

func (f *fakeRemote) ClosePullRequest(_ context.Context, _ remote.Repo, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, number)
	f.closed = append(f.closed, number)
	return nil
}

func (f *fakeRemote) ListOpenPullRequests(_ context.Context, _ remote.Repo) ([]remote.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prs := make([]remote.PullRequest, 0, len(f.open))
	for _, pr := range f.open {
		prs = append(prs, pr)
	}
	return prs, nil
}

func (f *fakeRemote) commitsTo(branch string) []commitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []commitCall
	for _, c := range f.commits {
		if c.branch == branch {
			out = append(out, c)
		}
	}
	return out
}

type testEnv struct {
	orch    *Orchestrator
	fake    *fakeRemote
	store   *store.SQLiteStore
	catalog *catalog.Catalog
	events  <-chan *events.Event
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cat, err := catalog.Load()
	require.NoError(t, err)

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fake := newFakeRemote()
	// Serve the seeded docs content, matching a freshly reset demo
	for _, seed := range cat.Seeds {
		if seed.Repo == "docs" {
			fake.files[seed.Path] = seed.Content
		}
	}

	broadcaster := events.NewBroadcaster(nil)
	t.Cleanup(broadcaster.Close)
	feed, _ := broadcaster.Subscribe(t.Context())

	orch := New(fake, st, cat, broadcaster, Config{
		DocsRepo:   docsRepo,
		CodeRepo:   codeRepo,
		BaseBranch: "main",
		DelayUnit:  time.Millisecond,
	}, nil)

	return &testEnv{orch: orch, fake: fake, store: st, catalog: cat, events: feed}
}

// drainEventTypes returns the types of all events currently buffered.
func (e *testEnv) drainEventTypes() []string {
	var types []string
	for {
		select {
		case ev := <-e.events:
			types = append(types, ev.Type)
		default:
			return types
		}
	}
}

func TestPropagateChanges_DirectCommit(t *testing.T) {
	env := newTestEnv(t)

	review, err := env.orch.PropagateChanges(t.Context(), []string{"src/routes/users.ts"}, config.AccessLevelHigh)
	require.NoError(t, err)
	assert.Nil(t, review, "direct-commit mode creates no review")

	commits := env.fake.commitsTo("main")
	require.Len(t, commits, 2)
	paths := []string{commits[0].path, commits[1].path}
	assert.Contains(t, paths, "docs/getting-started.md")
	assert.Contains(t, paths, "docs/how-to-guide.md")

	assert.Empty(t, env.fake.branches, "no branch in direct-commit mode")
	assert.Empty(t, env.fake.open, "no pull request in direct-commit mode")

	types := env.drainEventTypes()
	assert.Equal(t, []string{
		events.TypeAnalyzingChanges,
		events.TypeCommitting, events.TypeCommitted,
		events.TypeCommitting, events.TypeCommitted,
		events.TypeDeploymentStarted,
	}, types)
}

func TestPropagateChanges_ReviewMode(t *testing.T) {
	env := newTestEnv(t)

	review, err := env.orch.PropagateChanges(t.Context(), []string{"src/routes/users.ts"}, config.AccessLevelMedium)
	require.NoError(t, err)
	require.NotNil(t, review)

	assert.Equal(t, store.StatusPending, review.Status)
	require.NotNil(t, review.PRNumber)
	assert.Len(t, review.Files, 2)
	assert.True(t, strings.HasPrefix(review.Branch, "docs-update-"), "branch %q", review.Branch)

	// The batch lands on one branch with one pull request
	require.Len(t, env.fake.branches, 1)
	assert.Len(t, env.fake.commitsTo(env.fake.branches[0]), 2)
	assert.Len(t, env.fake.open, 1)
	assert.Empty(t, env.fake.commitsTo("main"))

	// Seed content recorded as the before text
	change := review.Files["docs/getting-started.md"]
	seeded, ok := env.catalog.SeedContent("docs/getting-started.md")
	require.True(t, ok)
	assert.Equal(t, seeded, change.Before)
	assert.NotEmpty(t, change.After)

	types := env.drainEventTypes()
	assert.Equal(t, []string{events.TypeAnalyzingChanges, events.TypeReviewCreated}, types)
}

func TestPropagateChanges_NoMappedFiles(t *testing.T) {
	env := newTestEnv(t)

	review, err := env.orch.PropagateChanges(t.Context(), []string{"src/unknown.ts"}, config.AccessLevelMedium)
	require.NoError(t, err)
	assert.Nil(t, review)

	assert.Empty(t, env.fake.commits)
	assert.Empty(t, env.fake.branches)

	types := env.drainEventTypes()
	assert.Equal(t, []string{events.TypeAnalyzingChanges, events.TypeNoUpdatesNeeded}, types)
}

func TestApplyGapFixes_TwoFiles(t *testing.T) {
	env := newTestEnv(t)

	// gap_001 and gap_003 target different documentation files
	review, err := env.orch.ApplyGapFixes(t.Context(), []string{"gap_001", "gap_003"})
	require.NoError(t, err)
	require.NotNil(t, review)

	assert.Equal(t, store.StatusPending, review.Status)
	require.NotNil(t, review.PRNumber)
	assert.Len(t, review.Files, 2)
	assert.True(t, strings.HasPrefix(review.Branch, "gap-fix-"), "branch %q", review.Branch)

	gap, ok := env.catalog.GapByID("gap_001")
	require.True(t, ok)
	change, ok := review.Files[gap.Fix.File]
	require.True(t, ok)
	assert.Empty(t, change.Before, "prior content is not retained for gap fixes")
	assert.Contains(t, change.After, gap.Fix.After)
	assert.NotContains(t, change.After, gap.Fix.Before)

	types := env.drainEventTypes()
	assert.Equal(t, []string{events.TypeReviewCreated, events.TypeGapsFixed}, types)
}

func TestApplyGapFixes_UnknownIDsDropped(t *testing.T) {
	env := newTestEnv(t)

	review, err := env.orch.ApplyGapFixes(t.Context(), []string{"gap_999", "gap_001"})
	require.NoError(t, err)
	assert.Len(t, review.Files, 1)
}

func TestApplyGapFixes_NoKnownGaps(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orch.ApplyGapFixes(t.Context(), []string{"gap_999"})
	assert.ErrorIs(t, err, ErrNoGapsSelected)

	_, err = env.orch.ApplyGapFixes(t.Context(), nil)
	assert.ErrorIs(t, err, ErrNoGapsSelected)
}

func TestApplyGapFixes_SkipsUnreadableFiles(t *testing.T) {
	env := newTestEnv(t)

	gap, ok := env.catalog.GapByID("gap_003")
	require.True(t, ok)
	delete(env.fake.files, gap.Fix.File)

	review, err := env.orch.ApplyGapFixes(t.Context(), []string{"gap_001", "gap_003"})
	require.NoError(t, err)
	assert.Len(t, review.Files, 1)
	assert.NotContains(t, review.Files, gap.Fix.File)
}

func TestApplyGapFixes_AllFilesUnreadable(t *testing.T) {
	env := newTestEnv(t)
	env.fake.getFileErr = errors.New("remote unavailable")

	_, err := env.orch.ApplyGapFixes(t.Context(), []string{"gap_001"})
	require.Error(t, err)
	assert.Empty(t, env.fake.branches, "no branch created when nothing could be read")
}

func TestApproveReview(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.orch.PropagateChanges(t.Context(), []string{"src/routes/users.ts"}, config.AccessLevelMedium)
	require.NoError(t, err)
	env.drainEventTypes()

	merged, err := env.orch.ApproveReview(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusMerged, merged.Status)

	assert.Equal(t, []int{*created.PRNumber}, env.fake.merged)
	assert.Equal(t, []string{created.Branch}, env.fake.deletedBranches)

	types := env.drainEventTypes()
	assert.Equal(t, []string{events.TypeReviewMerged}, types)
}

func TestApproveReview_Twice(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.orch.PropagateChanges(t.Context(), []string{"src/routes/users.ts"}, config.AccessLevelMedium)
	require.NoError(t, err)

	_, err = env.orch.ApproveReview(t.Context(), created.ID)
	require.NoError(t, err)

	_, err = env.orch.ApproveReview(t.Context(), created.ID)
	assert.ErrorIs(t, err, store.ErrStatusConflict)
}

func TestApproveReview_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orch.ApproveReview(t.Context(), 404)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApproveReview_NoPullRequest(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.store.CreateReview(t.Context(), &store.Review{
		Status: store.StatusPending,
		Files:  map[string]store.FileChange{"docs/a.md": {After: "x"}},
	})
	require.NoError(t, err)

	_, err = env.orch.ApproveReview(t.Context(), id)
	assert.ErrorIs(t, err, ErrNoPullRequest)

	got, err := env.store.GetReview(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, got.Status, "status untouched on rejection")
}

func TestEditReviewFile(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.orch.PropagateChanges(t.Context(), []string{"src/routes/users.ts"}, config.AccessLevelMedium)
	require.NoError(t, err)
	env.drainEventTypes()

	updated, err := env.orch.EditReviewFile(t.Context(), created.ID, "docs/getting-started.md", "revised draft")
	require.NoError(t, err)
	assert.Equal(t, "revised draft", updated.Files["docs/getting-started.md"].After)

	// The replacement is committed to the review's branch
	commits := env.fake.commitsTo(created.Branch)
	last := commits[len(commits)-1]
	assert.Equal(t, "docs/getting-started.md", last.path)
	assert.Equal(t, "revised draft", last.content)

	types := env.drainEventTypes()
	assert.Equal(t, []string{events.TypeReviewUpdated}, types)
}

func TestEditReviewFile_ClosedReview(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.orch.PropagateChanges(t.Context(), []string{"src/routes/users.ts"}, config.AccessLevelMedium)
	require.NoError(t, err)
	_, err = env.orch.ApproveReview(t.Context(), created.ID)
	require.NoError(t, err)

	_, err = env.orch.EditReviewFile(t.Context(), created.ID, "docs/getting-started.md", "too late")
	assert.ErrorIs(t, err, ErrReviewClosed)
}

func TestEditReviewFile_UnknownFile(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.orch.PropagateChanges(t.Context(), []string{"src/routes/users.ts"}, config.AccessLevelMedium)
	require.NoError(t, err)

	_, err = env.orch.EditReviewFile(t.Context(), created.ID, "docs/not-in-review.md", "x")
	assert.ErrorIs(t, err, store.ErrFileNotInReview)
}

func TestReset(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.orch.PropagateChanges(t.Context(), []string{"src/routes/users.ts"}, config.AccessLevelMedium)
	require.NoError(t, err)
	env.drainEventTypes()

	require.NoError(t, env.orch.Reset(t.Context()))

	// Open pull request closed without merging
	assert.Equal(t, []int{*created.PRNumber}, env.fake.closed)
	assert.Empty(t, env.fake.merged)

	// Every seeded file restored on the base branch of its repository
	restored := env.fake.commitsTo("main")
	assert.Len(t, restored, len(env.catalog.Seeds))
	for _, c := range restored {
		seeded, ok := env.catalog.SeedContent(c.path)
		require.True(t, ok, "unexpected restore of %s", c.path)
		assert.Equal(t, seeded, c.content)
	}

	// Store emptied
	pending, err := env.store.ListReviews(t.Context(), store.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	types := env.drainEventTypes()
	assert.Equal(t, []string{events.TypeResetComplete}, types)
}

func TestTriggerDemo(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.orch.TriggerDemo(t.Context(), config.AccessLevelMedium))

	trigger := env.catalog.Trigger
	commits := env.fake.commitsTo("main")
	require.Len(t, commits, 1)
	assert.Equal(t, codeRepo, commits[0].repo)
	assert.Equal(t, trigger.File, commits[0].path)
	assert.Equal(t, trigger.Content, commits[0].content)

	// The simulated webhook fires after the delay and opens a review
	var types []string
	require.Eventually(t, func() bool {
		types = append(types, env.drainEventTypes()...)
		for _, typ := range types {
			if typ == events.TypeReviewCreated {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	assert.Contains(t, types, events.TypeCodePushed)
	assert.Contains(t, types, events.TypeWebhookReceived)

	pending, err := env.store.ListReviews(context.Background(), store.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
