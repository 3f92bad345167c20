package runner

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/crossrun/crossrun/internal/env"
	"github.com/crossrun/crossrun/internal/proc"
)

const styleTimeout = 5 * time.Minute

// Style checks the formatting of every source file in the workspace with a
// single formatter invocation. It always runs on the host; formatting does
// not depend on the target.
func (r *Runner) Style(ctx context.Context) error {
	files, err := sourceFiles(r.Root, ".rs")
	if err != nil {
		return fmt.Errorf("collect source files: %w", err)
	}
	if len(files) == 0 {
		r.Logger.Warn("no source files found", "root", r.Root)
		return nil
	}
	r.Logger.Info("checking formatting", "files", len(files))

	started := time.Now()
	args := append([]string{"--edition", "2021", "--check"}, files...)
	cmd, err := env.NewHost(r.Root).RunCommand(env.RustfmtBin(), args, "")
	if err != nil {
		return err
	}
	if err := r.run(ctx, "rustfmt_style", cmd, styleTimeout); err != nil {
		observeCheck(string(SuiteStyle), outcomeFailed)
		return fmt.Errorf("formatting check: %w", err)
	}
	observeCheck(string(SuiteStyle), outcomePassed)
	checkDuration.WithLabelValues(string(SuiteStyle)).Observe(time.Since(started).Seconds())
	return nil
}

// sourceFiles walks root and returns every file with the given extension,
// skipping hidden directories and build output.
func sourceFiles(root, ext string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || name == "target") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(name) == ext {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (r *Runner) run(ctx context.Context, name string, cmd proc.Command, timeout time.Duration) error {
	return proc.Run(ctx, r.Pool, r.Logger, name, cmd, timeout)
}
