// Package git provides the "git" source: one work unit per commit reachable
// from a branch head, each carrying commitProperties and ownership proposals.
package git

import (
	"context"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/divyamanohar-stripe/datahub/ingestion"
	"github.com/divyamanohar-stripe/datahub/internal/fetch"
	"github.com/divyamanohar-stripe/datahub/logger"
	"github.com/divyamanohar-stripe/datahub/metadata"
	"github.com/divyamanohar-stripe/datahub/plugin"
	"github.com/divyamanohar-stripe/datahub/recipe"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

// Metadata describes the git source.
var Metadata = plugin.Metadata{
	Name:        "git",
	Version:     "1.0.0",
	Requires:    ">= 1.0, < 2",
	Description: "Commit history of a git repository (local path or remote URL)",
}

// Entity and aspect names emitted for commits.
const (
	EntityCommit           = "commit"
	AspectCommitProperties = "commitProperties"
)

const (
	defaultPlatform = "git"
	ownerSourceType = "SOURCE_CONTROL"
	maxSubjectLen   = 200
)

// Options configures the git source.
type Options struct {
	Repo       string `mapstructure:"repo"`
	Branch     string `mapstructure:"branch"`
	Since      string `mapstructure:"since"`
	MaxCommits int    `mapstructure:"max_commits"`
	Platform   string `mapstructure:"platform"`
	Env        string `mapstructure:"env"`
}

// Source walks the history of one repository.
type Source struct {
	opts   Options
	since  *time.Time
	report *ingestion.Report
	logger *zap.SugaredLogger

	mu       sync.Mutex
	iterated bool
	resolved *fetch.Resolved
}

// New is the plugin factory.
func New(config map[string]any, pctx *ingestion.PipelineContext) (ingestion.Source, error) {
	var opts Options
	if err := recipe.DecodeOptions(config, &opts); err != nil {
		return nil, err
	}
	if opts.Repo == "" {
		return nil, errors.New("repo is required")
	}
	if opts.MaxCommits < 0 {
		return nil, errors.Newf("max_commits must be >= 0, got %d", opts.MaxCommits)
	}
	if opts.Platform == "" {
		opts.Platform = defaultPlatform
	}
	if opts.Env == "" {
		opts.Env = metadata.DefaultEnv
	}

	var since *time.Time
	if opts.Since != "" {
		t, err := parseSince(opts.Since)
		if err != nil {
			return nil, err
		}
		since = &t
	}

	log := logger.ComponentLogger("source.git")
	if pctx != nil {
		log = log.With(logger.FieldRunID, pctx.RunID())
	}
	return &Source{
		opts:   opts,
		since:  since,
		report: ingestion.NewReport(Metadata.Name),
		logger: log,
	}, nil
}

func parseSince(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.WithHint(
		errors.Newf("since %q is not a date", s),
		"use RFC3339 (2024-01-15T00:00:00Z) or a plain date (2024-01-15)",
	)
}

func (s *Source) Report() *ingestion.Report {
	return s.report
}

// WorkUnits yields one unit per commit, newest first, with the commit hash
// as unit id.
func (s *Source) WorkUnits(ctx context.Context) iter.Seq2[*ingestion.WorkUnit, error] {
	return func(yield func(*ingestion.WorkUnit, error) bool) {
		s.mu.Lock()
		if s.iterated {
			s.mu.Unlock()
			yield(nil, errors.New("git source can only be iterated once"))
			return
		}
		s.iterated = true
		s.mu.Unlock()

		resolved, err := fetch.Resolve(ctx, s.opts.Repo, fetch.ModeDir, s.logger)
		if err != nil {
			yield(nil, err)
			return
		}
		s.mu.Lock()
		s.resolved = resolved
		s.mu.Unlock()

		repo, err := git.PlainOpen(resolved.LocalPath)
		if err != nil {
			yield(nil, errors.Wrapf(err, "failed to open git repository %s", s.opts.Repo))
			return
		}

		head, err := s.head(repo)
		if err != nil {
			yield(nil, err)
			return
		}

		commits, err := repo.Log(&git.LogOptions{
			From:  head,
			Order: git.LogOrderCommitterTime,
			Since: s.since,
		})
		if err != nil {
			yield(nil, errors.Wrap(err, "failed to walk commit history"))
			return
		}
		defer commits.Close()

		name := repoName(resolved.OriginalInput)
		s.logger.Infow("Walking commit history",
			"repo", name,
			"head", head.String()[:7])

		count := 0
		for {
			if s.opts.MaxCommits > 0 && count >= s.opts.MaxCommits {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			c, err := commits.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, errors.Wrap(err, "failed to read commit"))
				return
			}
			count++

			proposals := s.proposals(name, c)
			s.report.AddWorkUnit()
			s.report.AddRecords(len(proposals))
			if !yield(ingestion.NewWorkUnit(c.Hash.String(), proposals), nil) {
				return
			}
		}
	}
}

func (s *Source) head(repo *git.Repository) (plumbing.Hash, error) {
	if s.opts.Branch == "" {
		ref, err := repo.Head()
		if err != nil {
			return plumbing.ZeroHash, errors.Wrap(err, "failed to resolve HEAD")
		}
		return ref.Hash(), nil
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(s.opts.Branch), true)
	if err != nil {
		return plumbing.ZeroHash, errors.WithHint(
			errors.Wrapf(err, "branch %q not found", s.opts.Branch),
			"omit branch to use the repository HEAD",
		)
	}
	return ref.Hash(), nil
}

func (s *Source) proposals(repo string, c *object.Commit) []*metadata.ChangeProposal {
	urn := CommitURN(s.opts.Platform, repo, c.Hash.String())

	parents := make([]any, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	props := map[string]any{
		"hash":        c.Hash.String(),
		"subject":     subject(c.Message),
		"message":     strings.TrimSpace(c.Message),
		"author":      c.Author.Name,
		"authorEmail": c.Author.Email,
		"authoredAt":  c.Author.When.UnixMilli(),
		"committedAt": c.Committer.When.UnixMilli(),
		"parents":     parents,
		"repository":  repo,
		"env":         s.opts.Env,
	}
	if s.opts.Branch != "" {
		props["branch"] = s.opts.Branch
	}

	var owners []string
	if user := username(c.Author); user != "" {
		owners = append(owners, user)
	}
	return []*metadata.ChangeProposal{
		metadata.NewUpsert(EntityCommit, urn, AspectCommitProperties, props),
		metadata.NewUpsert(EntityCommit, urn, metadata.AspectOwnership, metadata.Ownership(owners, nil, ownerSourceType)),
	}
}

// Close removes any cloned copy of a remote repository.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved != nil {
		s.resolved.Cleanup()
		s.resolved = nil
	}
	return nil
}

// CommitURN returns the URN of one commit of a repository.
func CommitURN(platform, repo, hash string) string {
	return fmt.Sprintf("urn:li:%s:(%s,%s,%s)", EntityCommit, metadata.MakeDataPlatformURN(platform), repo, hash)
}

func repoName(input string) string {
	name := strings.TrimSuffix(strings.TrimRight(input, "/"), ".git")
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." {
		if abs, err := filepath.Abs(input); err == nil {
			name = filepath.Base(abs)
		}
	}
	return name
}

func subject(message string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	if len(line) > maxSubjectLen {
		return line[:maxSubjectLen-3] + "..."
	}
	return line
}

// username derives a corpuser id from the author's email local part,
// falling back to the lowercased name.
func username(sig object.Signature) string {
	if local, _, ok := strings.Cut(sig.Email, "@"); ok && local != "" {
		return strings.ToLower(local)
	}
	return strings.ToLower(strings.Join(strings.Fields(sig.Name), "."))
}
