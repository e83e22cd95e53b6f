package models

import (
	"fmt"
	"regexp"
	"strings"
)

// githubURLPattern matches repository URLs of the form
// https://github.com/{owner}/{repo} with an optional trailing slash.
var githubURLPattern = regexp.MustCompile(`^https://github\.com/([a-zA-Z0-9-]+)/([a-zA-Z0-9-_.]+)/?$`)

// InputRef identifies the source artifact a job analyzes: a repository,
// optionally narrowed to a single file path, at an optional revision.
type InputRef struct {
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	Path     string `json:"path,omitempty"`     // Empty means the whole repository
	Revision string `json:"revision,omitempty"` // Branch, tag, or commit SHA; empty means default branch
}

// ParseRepoURL extracts owner and repo from a GitHub repository URL
func ParseRepoURL(url string) (InputRef, error) {
	matches := githubURLPattern.FindStringSubmatch(strings.TrimSpace(url))
	if matches == nil {
		return InputRef{}, NewFailure(FailureNotFound, "invalid GitHub repository URL: %s", url)
	}
	return InputRef{
		Owner: matches[1],
		Repo:  strings.TrimSuffix(matches[2], ".git"),
	}, nil
}

// Validate checks that the reference identifies a repository
func (r InputRef) Validate() error {
	if r.Owner == "" || r.Repo == "" {
		return fmt.Errorf("input ref requires owner and repo")
	}
	return nil
}

// String returns the canonical form used for deduplication keys:
// owner/repo@revision:path with empty segments omitted.
func (r InputRef) String() string {
	var b strings.Builder
	b.WriteString(r.Owner)
	b.WriteString("/")
	b.WriteString(r.Repo)
	if r.Revision != "" {
		b.WriteString("@")
		b.WriteString(r.Revision)
	}
	if r.Path != "" {
		b.WriteString(":")
		b.WriteString(r.Path)
	}
	return b.String()
}
