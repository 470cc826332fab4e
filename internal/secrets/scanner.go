// Package secrets gates the optional git commit of snapshots: content
// that looks like it carries credentials is kept locally but never
// committed. A dedicated scanner binary is preferred when configured;
// otherwise a fixed pattern list covers the common credential formats.
package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"time"
)

// Match describes a scanner finding.
type Match struct {
	Pattern string `json:"pattern"`
	Line    int    `json:"line,omitempty"`
}

// Scanner checks snapshot content for secrets before commit. A nil
// match means the content is clean.
type Scanner interface {
	Scan(ctx context.Context, path string) (*Match, error)
}

// Resolve picks the scanner implementation once at startup: the
// configured binary when it is present on PATH, else the built-in
// pattern scanner.
func Resolve(scannerBin string) Scanner {
	if scannerBin != "" {
		if resolved, err := exec.LookPath(scannerBin); err == nil {
			return &ExternalScanner{bin: resolved}
		}
	}
	return NewPatternScanner()
}

// ExternalScanner shells out to a scanner binary. Exit 0 means clean,
// exit 1 means a finding, anything else is a scanner failure.
type ExternalScanner struct {
	bin     string
	timeout time.Duration
}

// NewExternalScanner creates a scanner around the given binary.
func NewExternalScanner(bin string) *ExternalScanner {
	return &ExternalScanner{bin: bin}
}

// Scan implements Scanner.
func (s *ExternalScanner) Scan(ctx context.Context, path string) (*Match, error) {
	timeout := s.timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.bin, path) // #nosec G204 -- binary resolved from config at startup
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil, nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("secret scanner timed out on %s", path)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return &Match{Pattern: s.bin}, nil
	}
	return nil, fmt.Errorf("secret scanner failed on %s: %s: %w", path, stderr.String(), err)
}

// PatternScanner matches a fixed list of credential formats.
type PatternScanner struct {
	patterns []*regexp.Regexp
}

// Fallback patterns for common credential formats. Deliberately narrow:
// false positives here block snapshot commits.
var defaultPatterns = []string{
	// AWS access key ID
	`AKIA[0-9A-Z]{16}`,
	// GitHub personal access token
	`ghp_[A-Za-z0-9]{36}`,
	// GitHub OAuth token
	`gho_[A-Za-z0-9]{36}`,
	// GitHub fine-grained PAT
	`github_pat_[A-Za-z0-9_]{82}`,
	// OpenAI-style API key
	`sk-[A-Za-z0-9]{32,}`,
	// Slack token
	`xox[baprs]-[A-Za-z0-9-]{10,}`,
	// PEM private key
	`-----BEGIN (?:RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`,
	// Generic key/secret assignment with a long quoted value.
	`(?i)(?:api[_-]?key|secret|password|token)\s*[:=]\s*['"][^'"]{16,}['"]`,
}

// NewPatternScanner creates the built-in fallback scanner.
func NewPatternScanner() *PatternScanner {
	patterns := make([]*regexp.Regexp, 0, len(defaultPatterns))
	for _, p := range defaultPatterns {
		patterns = append(patterns, regexp.MustCompile(p))
	}
	return &PatternScanner{patterns: patterns}
}

// Scan implements Scanner.
func (s *PatternScanner) Scan(_ context.Context, path string) (*Match, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- snapshot path validated by the store
	if err != nil {
		return nil, fmt.Errorf("reading %s for secret scan: %w", path, err)
	}
	for _, re := range s.patterns {
		if loc := re.FindIndex(data); loc != nil {
			return &Match{
				Pattern: re.String(),
				Line:    1 + bytes.Count(data[:loc[0]], []byte{'\n'}),
			}, nil
		}
	}
	return nil, nil
}
