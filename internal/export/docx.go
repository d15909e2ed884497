package export

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// exportDOCX converts HTML to DOCX by piping it through pandoc.
func exportDOCX(parent context.Context, html string, title string) (*Result, error) {
	if _, err := exec.LookPath("pandoc"); err != nil {
		return nil, fmt.Errorf("%w: pandoc not installed", ErrDOCXDependencyMissing)
	}

	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "pandoc",
		"-f", "html",
		"-t", "docx",
		"--standalone",
		"--metadata", "title="+title,
		"-o", "-",
	)
	cmd.Stdin = strings.NewReader(html)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("pandoc failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("pandoc execution failed: %w", err)
	}

	return &Result{
		Data:     output,
		Filename: sanitizeFilename(title) + ".docx",
		MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}, nil
}
