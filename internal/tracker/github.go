package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/zulandar/conductor/internal/retry"
)

// idemMarker prefixes the hidden HTML comment embedded in every reply that
// carries an idempotency key. Retried posts scan recent comments for the
// marker before posting again.
const idemMarker = "<!-- conductor:idem:"

// issuesService abstracts the go-github Issues API methods we use, enabling
// test mocks.
type issuesService interface {
	CreateComment(ctx context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
	ListComments(ctx context.Context, owner, repo string, number int, opts *github.IssueListCommentsOptions) ([]*github.IssueComment, *github.Response, error)
	CreateCommentReaction(ctx context.Context, owner, repo string, id int64, content string) (*github.Reaction, *github.Response, error)
	Edit(ctx context.Context, owner, repo string, number int, issue *github.IssueRequest) (*github.Issue, *github.Response, error)
	AddLabelsToIssue(ctx context.Context, owner, repo string, number int, labels []string) ([]*github.Label, *github.Response, error)
}

// reactionsShim adapts github.ReactionsService.CreateIssueCommentReaction to
// the issuesService surface so one mock covers the whole gateway.
type reactionsShim struct {
	issues    *github.IssuesService
	reactions *github.ReactionsService
}

func (s *reactionsShim) CreateComment(ctx context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error) {
	return s.issues.CreateComment(ctx, owner, repo, number, comment)
}

func (s *reactionsShim) ListComments(ctx context.Context, owner, repo string, number int, opts *github.IssueListCommentsOptions) ([]*github.IssueComment, *github.Response, error) {
	return s.issues.ListComments(ctx, owner, repo, number, opts)
}

func (s *reactionsShim) CreateCommentReaction(ctx context.Context, owner, repo string, id int64, content string) (*github.Reaction, *github.Response, error) {
	return s.reactions.CreateIssueCommentReaction(ctx, owner, repo, id, content)
}

func (s *reactionsShim) Edit(ctx context.Context, owner, repo string, number int, issue *github.IssueRequest) (*github.Issue, *github.Response, error) {
	return s.issues.Edit(ctx, owner, repo, number, issue)
}

func (s *reactionsShim) AddLabelsToIssue(ctx context.Context, owner, repo string, number int, labels []string) ([]*github.Label, *github.Response, error) {
	return s.issues.AddLabelsToIssue(ctx, owner, repo, number, labels)
}

// GitHub implements Gateway against the GitHub Issues API. Thread IDs take
// the form "repo#number"; comment IDs take the form "repo#commentID".
type GitHub struct {
	owner  string
	issues issuesService
}

// GitHubOpts holds parameters for creating a GitHub gateway.
type GitHubOpts struct {
	Owner string
	Token string
	// For testing: inject a mock service instead of the real API.
	Issues issuesService
}

// NewGitHub creates a GitHub gateway authenticated with a static token.
func NewGitHub(opts GitHubOpts) (*GitHub, error) {
	if opts.Owner == "" {
		return nil, fmt.Errorf("tracker: owner is required")
	}
	if opts.Issues == nil && opts.Token == "" {
		return nil, fmt.Errorf("tracker: token is required")
	}

	g := &GitHub{owner: opts.Owner}
	if opts.Issues != nil {
		g.issues = opts.Issues
		return g, nil
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
	client := github.NewClient(oauth2.NewClient(context.Background(), ts))
	g.issues = &reactionsShim{issues: client.Issues, reactions: client.Reactions}
	return g, nil
}

// PostReply posts body as an issue comment. When idemKey is non-empty the
// reply carries a hidden marker, and recent comments are checked for that
// marker first, so a retried call whose earlier attempt actually landed
// returns the existing comment instead of duplicating it.
func (g *GitHub) PostReply(ctx context.Context, threadID, body, idemKey string) (string, error) {
	repo, number, err := splitThreadID(threadID)
	if err != nil {
		return "", retry.Permanent(err)
	}

	if idemKey != "" {
		if id, found := g.findByIdemKey(ctx, repo, number, idemKey); found {
			return id, nil
		}
		body += "\n\n" + idemMarker + idemKey + " -->"
	}

	comment, _, err := g.issues.CreateComment(ctx, g.owner, repo, number, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return "", classify(fmt.Errorf("tracker: post reply to %s: %w", threadID, err))
	}
	return repo + "#" + strconv.FormatInt(comment.GetID(), 10), nil
}

// PostReaction adds reaction (e.g. "eyes", "+1") to a comment.
func (g *GitHub) PostReaction(ctx context.Context, commentID, reaction string) error {
	repo, id, err := splitCommentID(commentID)
	if err != nil {
		return retry.Permanent(err)
	}
	if _, _, err := g.issues.CreateCommentReaction(ctx, g.owner, repo, id, reaction); err != nil {
		return classify(fmt.Errorf("tracker: react to %s: %w", commentID, err))
	}
	return nil
}

// UpdateStatus moves an issue between workflow states. "done" and
// "canceled" close the issue; any other status is expressed as a label.
func (g *GitHub) UpdateStatus(ctx context.Context, issueID, status string) error {
	repo, number, err := splitThreadID(issueID)
	if err != nil {
		return retry.Permanent(err)
	}

	switch status {
	case "done", "canceled":
		_, _, err = g.issues.Edit(ctx, g.owner, repo, number, &github.IssueRequest{
			State: github.Ptr("closed"),
		})
	default:
		_, _, err = g.issues.AddLabelsToIssue(ctx, g.owner, repo, number, []string{"status:" + status})
	}
	if err != nil {
		return classify(fmt.Errorf("tracker: update status of %s to %s: %w", issueID, status, err))
	}
	return nil
}

// ThreadContext returns up to limit comments of the thread, oldest first.
func (g *GitHub) ThreadContext(ctx context.Context, threadID string, limit int) ([]ThreadMessage, error) {
	repo, number, err := splitThreadID(threadID)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	if limit <= 0 {
		limit = 50
	}

	comments, _, err := g.issues.ListComments(ctx, g.owner, repo, number, &github.IssueListCommentsOptions{
		Sort:        github.Ptr("created"),
		Direction:   github.Ptr("asc"),
		ListOptions: github.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, classify(fmt.Errorf("tracker: thread context %s: %w", threadID, err))
	}

	msgs := make([]ThreadMessage, 0, len(comments))
	for _, c := range comments {
		msgs = append(msgs, ThreadMessage{
			ID:        repo + "#" + strconv.FormatInt(c.GetID(), 10),
			Author:    c.GetUser().GetLogin(),
			Body:      c.GetBody(),
			Timestamp: c.GetCreatedAt().Time,
		})
	}
	return msgs, nil
}

// findByIdemKey scans recent comments for the hidden idempotency marker.
func (g *GitHub) findByIdemKey(ctx context.Context, repo string, number int, idemKey string) (string, bool) {
	comments, _, err := g.issues.ListComments(ctx, g.owner, repo, number, &github.IssueListCommentsOptions{
		Sort:        github.Ptr("created"),
		Direction:   github.Ptr("desc"),
		ListOptions: github.ListOptions{PerPage: 20},
	})
	if err != nil {
		// Scan failure falls through to a fresh post; worst case the
		// tracker shows a duplicate rather than the daemon failing.
		return "", false
	}
	needle := idemMarker + idemKey + " -->"
	for _, c := range comments {
		if strings.Contains(c.GetBody(), needle) {
			return repo + "#" + strconv.FormatInt(c.GetID(), 10), true
		}
	}
	return "", false
}

// splitThreadID parses "repo#number".
func splitThreadID(threadID string) (string, int, error) {
	repo, numStr, ok := strings.Cut(threadID, "#")
	if !ok || repo == "" {
		return "", 0, fmt.Errorf("tracker: malformed thread ID %q (want repo#number)", threadID)
	}
	number, err := strconv.Atoi(numStr)
	if err != nil {
		return "", 0, fmt.Errorf("tracker: malformed thread ID %q: %w", threadID, err)
	}
	return repo, number, nil
}

// splitCommentID parses "repo#commentID".
func splitCommentID(commentID string) (string, int64, error) {
	repo, idStr, ok := strings.Cut(commentID, "#")
	if !ok || repo == "" {
		return "", 0, fmt.Errorf("tracker: malformed comment ID %q (want repo#id)", commentID)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("tracker: malformed comment ID %q: %w", commentID, err)
	}
	return repo, id, nil
}

// classify marks non-transient API failures as permanent so the retry layer
// propagates them immediately. Rate limiting and server errors stay
// retryable; auth and validation errors do not.
func classify(err error) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		code := ghErr.Response.StatusCode
		if code == http.StatusTooManyRequests || code >= 500 {
			return err
		}
		if code >= 400 {
			return retry.Permanent(err)
		}
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return err
	}
	// Network-level failures are transient.
	return err
}
