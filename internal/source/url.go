package source

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidRepoURL is returned for anything that is not a GitHub repository URL.
var ErrInvalidRepoURL = errors.New("invalid GitHub repository URL")

var repoURLPattern = regexp.MustCompile(`^(https?://)?(www\.)?github\.com/([A-Za-z0-9._-]+)/([A-Za-z0-9._-]+?)(\.git)?/?$`)

// Repo identifies a repository on the source host.
type Repo struct {
	Owner string
	Name  string
}

// FullName returns owner/name.
func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoURL validates raw and extracts the owner and repository name.
func ParseRepoURL(raw string) (Repo, error) {
	m := repoURLPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Repo{}, ErrInvalidRepoURL
	}
	owner, name := m[3], m[4]
	if isDotSegment(owner) || isDotSegment(name) {
		return Repo{}, fmt.Errorf("%w: %q", ErrInvalidRepoURL, raw)
	}
	return Repo{Owner: owner, Name: name}, nil
}

func isDotSegment(s string) bool {
	return s == "." || s == ".."
}
