package env

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"
)

const tripleProbeTimeout = 30 * time.Second

// HostTriple reports the target triple of the local toolchain, probing it
// once per cache lifetime via `rustc -vV`.
func (c *Cache) HostTriple(ctx context.Context, root string) (string, error) {
	c.tripleOnce.Do(func() {
		c.triple, c.tripleErr = probeHostTriple(ctx, c, root)
	})
	return c.triple, c.tripleErr
}

func probeHostTriple(ctx context.Context, c *Cache, root string) (string, error) {
	cmd, err := NewHost(root).RunCommand(RustcBin(), []string{"-vV"}, "")
	if err != nil {
		return "", err
	}

	var triple string
	scanner := bufio.NewScanner(cmd.Stdout())
	for scanner.Scan() {
		if t, ok := strings.CutPrefix(scanner.Text(), "host: "); ok {
			triple = strings.TrimSpace(t)
		}
	}
	scanErr := scanner.Err()

	exitCtx, cancel := context.WithTimeout(ctx, tripleProbeTimeout)
	defer cancel()
	if err := cmd.Exit(exitCtx); err != nil {
		return "", fmt.Errorf("probe host triple: %w", err)
	}
	if scanErr != nil {
		return "", fmt.Errorf("probe host triple: %w", scanErr)
	}
	if triple == "" {
		return "", fmt.Errorf("probe host triple: no host line in compiler version output")
	}

	c.logger.Debug("detected host triple", "triple", triple)
	return triple, nil
}
