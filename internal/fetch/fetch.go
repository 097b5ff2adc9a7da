// Package fetch resolves plugin inputs that may be local paths or remote
// locations. Remote inputs are fetched with hashicorp/go-getter, which
// understands:
//   - Local paths: /path/to/file, ./relative/path, ~/home/path
//   - HTTP(S) URLs, with archives auto-extracted in directory mode
//   - Git URLs and GitHub/GitLab shorthand (github.com/user/repo)
//   - S3 and GCS buckets
package fetch

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/divyamanohar-stripe/datahub/errors"
	"github.com/hashicorp/go-getter"
	"go.uber.org/zap"
)

// Mode selects whether the input names a single file or a directory tree.
type Mode int

const (
	ModeFile Mode = iota
	ModeDir
)

// Resolved is an input available on the local filesystem.
type Resolved struct {
	// LocalPath is the path to read (either the original or the fetched copy)
	LocalPath string
	// OriginalInput is the input as written in the recipe
	OriginalInput string
	// Fetched reports whether the input came from a remote location
	Fetched bool
	// TempDir holds fetched content; empty for local inputs
	TempDir string

	cleanup func()
}

// Cleanup removes any temporary resources created for this input.
// Safe to call multiple times.
func (r *Resolved) Cleanup() {
	if r.cleanup != nil {
		r.cleanup()
		r.cleanup = nil
	}
}

// Resolve makes input available locally. Remote inputs are fetched into a
// temporary directory that Cleanup removes.
func Resolve(ctx context.Context, input string, mode Mode, log *zap.SugaredLogger) (*Resolved, error) {
	if strings.TrimSpace(input) == "" {
		return nil, errors.NewInvalidRequestError("empty input location")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}

	detected, err := getter.Detect(input, pwd, getter.Detectors)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to detect source type of %s", input)
	}
	parsed, err := url.Parse(detected)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse detected URL %s", detected)
	}

	log.Debugw("go-getter detected source", "input", input, "detected", detected)

	if parsed.Scheme == "file" || parsed.Scheme == "" {
		return resolveLocal(input, parsed, pwd)
	}
	return fetchRemote(ctx, input, detected, mode, log)
}

func resolveLocal(input string, parsed *url.URL, pwd string) (*Resolved, error) {
	localPath := input
	if parsed.Scheme == "file" {
		localPath = parsed.Path
	}
	if strings.HasPrefix(localPath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "failed to expand home directory")
		}
		localPath = filepath.Join(home, localPath[2:])
	}
	if !filepath.IsAbs(localPath) {
		localPath = filepath.Join(pwd, localPath)
	}
	if _, err := os.Stat(localPath); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("%s does not exist", localPath)
		}
		return nil, errors.Wrapf(err, "cannot access %s", localPath)
	}
	return &Resolved{
		LocalPath:     localPath,
		OriginalInput: input,
		cleanup:       func() {},
	}, nil
}

func fetchRemote(ctx context.Context, input, detected string, mode Mode, log *zap.SugaredLogger) (*Resolved, error) {
	name := baseName(input)
	tempDir, err := os.MkdirTemp("", "gometa-fetch-"+name+"-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temp directory")
	}

	dst := tempDir
	clientMode := getter.ClientModeDir
	if mode == ModeFile {
		dst = filepath.Join(tempDir, name)
		clientMode = getter.ClientModeFile
	}

	log.Infow("Fetching input", "input", input, "destination", dst)

	client := &getter.Client{
		Ctx:     ctx,
		Src:     detected,
		Dst:     dst,
		Pwd:     tempDir,
		Mode:    clientMode,
		Getters: getter.Getters,
	}
	if err := client.Get(); err != nil {
		os.RemoveAll(tempDir)
		return nil, errors.Wrapf(err, "failed to fetch %s", input)
	}

	return &Resolved{
		LocalPath:     dst,
		OriginalInput: input,
		Fetched:       true,
		TempDir:       tempDir,
		cleanup: func() {
			log.Debugw("Cleaning up fetched input", "path", tempDir)
			os.RemoveAll(tempDir)
		},
	}, nil
}

// IsRemote reports whether input names a remote location.
func IsRemote(input string) bool {
	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}
	detected, err := getter.Detect(input, pwd, getter.Detectors)
	if err != nil {
		return false
	}
	parsed, err := url.Parse(detected)
	if err != nil {
		return false
	}
	return parsed.Scheme != "" && parsed.Scheme != "file"
}

// baseName returns a filesystem-safe name for the last path element of
// input.
func baseName(input string) string {
	if u, err := url.Parse(input); err == nil && u.Path != "" {
		input = u.Path
	}
	input = strings.TrimSuffix(strings.TrimSuffix(input, "/"), ".git")
	name := path.Base(input)

	name = strings.NewReplacer(":", "-", "@", "-", " ", "-", "?", "-", "*", "-").Replace(name)
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" || name == "." || name == "/" {
		name = "input"
	}
	return name
}
