package forge

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// githubRemoteRe extracts owner/name from https and ssh GitHub remote URLs.
var githubRemoteRe = regexp.MustCompile(
	`github\.com[:/]([^/]+/[^/]+?)(?:\.git)?$`)

// CurrentRepo returns the owner/name of the working checkout's origin
// remote, used as the default repo when none is given on the command line.
func CurrentRepo(ctx context.Context) (string, error) {
	out, err := gitOutput(ctx, "remote", "get-url", "origin")
	if err != nil {
		return "", fmt.Errorf("resolving origin remote: %w", err)
	}

	m := githubRemoteRe.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("origin remote %q is not a GitHub URL", out)
	}

	return m[1], nil
}

// CurrentBranch returns the working checkout's branch name.
func CurrentBranch(ctx context.Context) (string, error) {
	out, err := gitOutput(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving current branch: %w", err)
	}

	return out, nil
}

func gitOutput(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "git", args...).Output()
	if err != nil {
		if ee, ok := err.(*exec.Error); ok && ee.Err == exec.ErrNotFound {
			return "", fmt.Errorf("git is not installed: %w", err)
		}

		return "", fmt.Errorf("running git %s: %w",
			strings.Join(args, " "), err)
	}

	return strings.TrimSpace(string(out)), nil
}
