package runner

import (
	"strings"

	"github.com/crossrun/crossrun/internal/model"
)

// cargoArgsForCheck builds the build-tool arguments that scope a command
// to one crate and one check's target and feature selection.
func cargoArgsForCheck(crate model.Crate, check model.Check) []string {
	args := []string{"--package", crate.Name, "--target", check.TargetTriple}
	if check.NoDefaultFeatures {
		args = append(args, "--no-default-features")
	}
	if len(check.Features) > 0 {
		args = append(args, "--features", strings.Join(check.Features, ","))
	}
	return args
}
