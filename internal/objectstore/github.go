package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"

	"github.com/bull/ragindex/internal/errs"
)

// GitHubConfig locates the repository directory that backs a GitHubStore.
type GitHubConfig struct {
	Owner    string
	Repo     string
	Branch   string
	BasePath string
	Token    string
}

// GitHubStore keeps objects as files in a GitHub repository through the contents API.
type GitHubStore struct {
	client *github.Client
	cfg    GitHubConfig
}

var _ Store = (*GitHubStore)(nil)

// NewGitHubClient creates a GitHub client with rate limit handling.
// This handles both primary rate limits and secondary rate limits (abuse
// detection) by waiting and retrying. An empty token is unauthenticated.
func NewGitHubClient(token string) (*github.Client, error) {
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, err
	}
	client := github.NewClient(rateLimiter)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return client, nil
}

// NewGitHubStore creates a store on top of client.
func NewGitHubStore(client *github.Client, cfg GitHubConfig) (*GitHubStore, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errs.Validationf("github object store needs owner and repo")
	}
	return &GitHubStore{client: client, cfg: cfg}, nil
}

func (s *GitHubStore) fullPath(remotePath string) (string, error) {
	clean, err := cleanPath(remotePath)
	if err != nil {
		return "", err
	}
	return path.Join(s.cfg.BasePath, clean), nil
}

func (s *GitHubStore) getOptions() *github.RepositoryContentGetOptions {
	if s.cfg.Branch == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: s.cfg.Branch}
}

func (s *GitHubStore) branch() *string {
	if s.cfg.Branch == "" {
		return nil
	}
	return github.Ptr(s.cfg.Branch)
}

// stat returns the file entry at full, or ErrObjectNotFound.
func (s *GitHubStore) stat(ctx context.Context, full string) (*github.RepositoryContent, error) {
	file, _, _, err := s.client.Repositories.GetContents(ctx, s.cfg.Owner, s.cfg.Repo, full, s.getOptions())
	if err != nil {
		return nil, classifyGitHubError(full, err)
	}
	if file == nil {
		return nil, fmt.Errorf("%w: %s is a directory", ErrObjectNotFound, full)
	}
	return file, nil
}

// Put creates or replaces the file at remotePath with a commit.
func (s *GitHubStore) Put(ctx context.Context, remotePath string, r io.Reader) error {
	full, err := s.fullPath(remotePath)
	if err != nil {
		return err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading upload: %w", err)
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr("Upload " + remotePath),
		Content: content,
		Branch:  s.branch(),
	}
	existing, err := s.stat(ctx, full)
	switch {
	case err == nil:
		opts.SHA = existing.SHA
		_, _, err = s.client.Repositories.UpdateFile(ctx, s.cfg.Owner, s.cfg.Repo, full, opts)
	case errors.Is(err, ErrObjectNotFound):
		_, _, err = s.client.Repositories.CreateFile(ctx, s.cfg.Owner, s.cfg.Repo, full, opts)
	default:
		return err
	}
	if err != nil {
		return classifyGitHubError(full, err)
	}
	return nil
}

// Get fetches the content of remotePath.
func (s *GitHubStore) Get(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	full, err := s.fullPath(remotePath)
	if err != nil {
		return nil, err
	}
	file, err := s.stat(ctx, full)
	if err != nil {
		return nil, err
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", full, err)
	}
	return io.NopCloser(bytes.NewReader([]byte(content))), nil
}

// Delete removes remotePath with a commit.
func (s *GitHubStore) Delete(ctx context.Context, remotePath string) error {
	full, err := s.fullPath(remotePath)
	if err != nil {
		return err
	}
	file, err := s.stat(ctx, full)
	if err != nil {
		return err
	}
	_, _, err = s.client.Repositories.DeleteFile(ctx, s.cfg.Owner, s.cfg.Repo, full, &github.RepositoryContentFileOptions{
		Message: github.Ptr("Delete " + remotePath),
		SHA:     file.SHA,
		Branch:  s.branch(),
	})
	if err != nil {
		return classifyGitHubError(full, err)
	}
	return nil
}

// List recursively lists all files under prefix, relative to the base path.
func (s *GitHubStore) List(ctx context.Context, prefix string) ([]string, error) {
	dir := s.cfg.BasePath
	if prefix != "" {
		full, err := s.fullPath(prefix)
		if err != nil {
			return nil, err
		}
		dir = full
	}
	paths, err := s.listRecursive(ctx, dir)
	if errors.Is(err, ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *GitHubStore) listRecursive(ctx context.Context, dir string) ([]string, error) {
	_, entries, _, err := s.client.Repositories.GetContents(ctx, s.cfg.Owner, s.cfg.Repo, dir, s.getOptions())
	if err != nil {
		return nil, classifyGitHubError(dir, err)
	}

	var paths []string
	for _, item := range entries {
		switch item.GetType() {
		case "file":
			rel := strings.TrimPrefix(item.GetPath(), strings.TrimSuffix(s.cfg.BasePath, "/")+"/")
			if s.cfg.BasePath == "" {
				rel = item.GetPath()
			}
			paths = append(paths, rel)
		case "dir":
			sub, err := s.listRecursive(ctx, item.GetPath())
			if err != nil {
				return nil, err
			}
			paths = append(paths, sub...)
		}
	}
	return paths, nil
}

// GenerateDownloadURL returns the download URL GitHub issues for the file.
// For private repositories GitHub embeds a short-lived token and picks the
// expiry itself; ttl is not forwarded.
func (s *GitHubStore) GenerateDownloadURL(ctx context.Context, remotePath string, _ time.Duration) (string, error) {
	full, err := s.fullPath(remotePath)
	if err != nil {
		return "", err
	}
	file, err := s.stat(ctx, full)
	if err != nil {
		return "", err
	}
	if u := file.GetDownloadURL(); u != "" {
		return u, nil
	}
	branch := s.cfg.Branch
	if branch == "" {
		branch = "main"
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", s.cfg.Owner, s.cfg.Repo, branch, full), nil
}

// classifyGitHubError maps GitHub API failures onto the store errors.
func classifyGitHubError(p string, err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return errs.Transient(fmt.Errorf("github %s: %w", p, err))
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch code := respErr.Response.StatusCode; {
		case code == http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrObjectNotFound, p)
		case code >= http.StatusInternalServerError:
			return errs.Transient(fmt.Errorf("github %s: %w", p, err))
		}
		return fmt.Errorf("github %s: %w", p, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errs.Transient(fmt.Errorf("github %s: %w", p, err))
}
