package github

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/repolens/repolens/internal/common"
	"github.com/repolens/repolens/internal/interfaces"
	"github.com/repolens/repolens/internal/models"
)

// Connector implements interfaces.HostingClient against the GitHub API
type Connector struct {
	client       *github.Client
	limiter      *rate.Limiter
	logger       arbor.ILogger
	timeout      time.Duration
	maxFileBytes int
	maxFiles     int
	maxDepth     int
	extensions   map[string]bool
}

// NewConnector creates a GitHub hosting client from configuration
func NewConnector(config *common.GitHubConfig, logger arbor.ILogger) (*Connector, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("github token is required (set via REPOLENS_GITHUB_TOKEN, GITHUB_TOKEN, or github.token in config)")
	}

	timeout, err := time.ParseDuration(config.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid github request timeout '%s': %w", config.RequestTimeout, err)
	}

	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: config.Token},
	)
	tc := oauth2.NewClient(ctx, ts)
	client := github.NewClient(tc)

	requestsPerSec := config.RequestsPerSec
	if requestsPerSec <= 0 {
		requestsPerSec = 5
	}

	extMap := make(map[string]bool, len(config.SourceExtensions))
	for _, ext := range config.SourceExtensions {
		extMap[strings.ToLower(ext)] = true
	}

	logger.Debug().
		Dur("timeout", timeout).
		Float64("requests_per_sec", requestsPerSec).
		Int("max_files", config.MaxFiles).
		Int("max_file_bytes", config.MaxFileBytes).
		Msg("GitHub connector initialized")

	return &Connector{
		client:       client,
		limiter:      rate.NewLimiter(rate.Limit(requestsPerSec), 1),
		logger:       logger,
		timeout:      timeout,
		maxFileBytes: config.MaxFileBytes,
		maxFiles:     config.MaxFiles,
		maxDepth:     config.MaxDepth,
		extensions:   extMap,
	}, nil
}

// TestConnection verifies the token works by getting the authenticated user
func (c *Connector) TestConnection(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, _, err := c.client.Users.Get(ctx, "")
	if err != nil {
		return fmt.Errorf("github connection test failed: %w", mapError(err))
	}
	return nil
}

// FetchArtifact retrieves the content the ref points at. A ref with a path
// fetches that single file; a bare repository ref performs a capped scan of
// the repository's source files.
func (c *Connector) FetchArtifact(ctx context.Context, ref models.InputRef) (*models.Artifact, error) {
	if err := ref.Validate(); err != nil {
		return nil, models.NewFailure(models.FailureInternal, "%v", err)
	}

	if ref.Path != "" {
		return c.fetchFile(ctx, ref)
	}
	return c.scanRepository(ctx, ref)
}

// fetchFile retrieves a single file's decoded content
func (c *Connector) fetchFile(ctx context.Context, ref models.InputRef) (*models.Artifact, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, models.FailureFrom(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	content, _, _, err := c.client.Repositories.GetContents(callCtx, ref.Owner, ref.Repo, ref.Path, &github.RepositoryContentGetOptions{
		Ref: ref.Revision,
	})
	if err != nil {
		return nil, mapError(err)
	}
	if content == nil || content.GetType() != "file" {
		return nil, models.NewFailure(models.FailureNotFound, "path is not a file: %s", ref.Path)
	}

	decoded, err := content.GetContent()
	if err != nil {
		return nil, models.NewFailure(models.FailureInvalidResponse, "failed to decode content of %s: %v", ref.Path, err)
	}

	truncated := false
	if c.maxFileBytes > 0 && len(decoded) > c.maxFileBytes {
		decoded = decoded[:c.maxFileBytes]
		truncated = true
	}

	c.logger.Debug().
		Str("ref", ref.String()).
		Int("size", len(decoded)).
		Bool("truncated", truncated).
		Msg("Fetched file artifact")

	return &models.Artifact{
		Ref:       ref,
		Content:   decoded,
		Size:      len(decoded),
		FileCount: 1,
		Truncated: truncated,
	}, nil
}

// scanRepository walks the repository tree and assembles the source files
// into one artifact, honoring the configured file count, depth, and per-file
// size caps. Caps never fail the fetch; exceeding one marks the artifact
// truncated and records the skipped paths.
func (c *Connector) scanRepository(ctx context.Context, ref models.InputRef) (*models.Artifact, error) {
	revision := ref.Revision
	if revision == "" {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, models.FailureFrom(err)
		}
		repo, _, err := c.client.Repositories.Get(ctx, ref.Owner, ref.Repo)
		if err != nil {
			return nil, mapError(err)
		}
		revision = repo.GetDefaultBranch()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, models.FailureFrom(err)
	}

	treeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tree, _, err := c.client.Git.GetTree(treeCtx, ref.Owner, ref.Repo, revision, true)
	if err != nil {
		return nil, mapError(err)
	}

	var paths []string
	var skipped []string
	truncated := tree.GetTruncated()

	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		path := entry.GetPath()

		if !c.includePath(path) {
			continue
		}
		if len(paths) >= c.maxFiles {
			skipped = append(skipped, path)
			truncated = true
			continue
		}
		paths = append(paths, path)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s/%s (revision %s)\n", ref.Owner, ref.Repo, revision)
	fmt.Fprintf(&b, "Files analyzed: %d\n\n", len(paths))

	for _, path := range paths {
		fileRef := ref
		fileRef.Path = path
		artifact, err := c.fetchFile(ctx, fileRef)
		if err != nil {
			// A file disappearing mid-scan is not fatal to the scan
			if models.FailureFrom(err).Kind == models.FailureNotFound {
				skipped = append(skipped, path)
				continue
			}
			return nil, err
		}
		if artifact.Truncated {
			truncated = true
		}
		fmt.Fprintf(&b, "### File: %s\n\n%s\n\n", path, artifact.Content)
	}

	content := b.String()

	c.logger.Debug().
		Str("ref", ref.String()).
		Int("files", len(paths)).
		Int("skipped", len(skipped)).
		Bool("truncated", truncated).
		Msg("Scanned repository artifact")

	return &models.Artifact{
		Ref:       ref,
		Content:   content,
		Size:      len(content),
		FileCount: len(paths),
		Truncated: truncated,
		Skipped:   skipped,
	}, nil
}

// CreateIssue files an issue on the referenced repository
func (c *Connector) CreateIssue(ctx context.Context, ref models.InputRef, title, body string) (*models.Issue, error) {
	if err := ref.Validate(); err != nil {
		return nil, models.NewFailure(models.FailureInternal, "%v", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, models.FailureFrom(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	issue, _, err := c.client.Issues.Create(callCtx, ref.Owner, ref.Repo, &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	})
	if err != nil {
		return nil, mapError(err)
	}

	c.logger.Info().
		Str("repo", ref.Owner+"/"+ref.Repo).
		Int("number", issue.GetNumber()).
		Msg("Created GitHub issue")

	return &models.Issue{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		URL:    issue.GetHTMLURL(),
	}, nil
}

// includePath applies the scan filters: supported source extension, depth
// cap, and the usual dependency/VCS directories excluded.
func (c *Connector) includePath(path string) bool {
	if strings.Count(path, "/") >= c.maxDepth {
		return false
	}
	for _, exclude := range []string{".git/", "node_modules/", "vendor/", "dist/", "build/"} {
		if strings.HasPrefix(path, exclude) || strings.Contains(path, "/"+exclude) {
			return false
		}
	}
	ext := strings.ToLower(filepath.Ext(path))
	return c.extensions[ext]
}

// Ensure interface compliance
var _ interfaces.HostingClient = (*Connector)(nil)
