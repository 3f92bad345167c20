package env

import "os"

// External tools are invoked by name and can be overridden through one
// canonical environment variable per tool; unset variables fall back to a
// default program on PATH.

// CargoBin is the build tool.
func CargoBin() string { return toolFromEnv("CARGO", "cargo") }

// RustcBin is the compiler front-end, used for host triple detection.
func RustcBin() string { return toolFromEnv("RUSTC", "rustc") }

// RustfmtBin is the formatter checked by the style driver.
func RustfmtBin() string { return toolFromEnv("RUSTFMT", "rustfmt") }

// DockerBin is the container engine.
func DockerBin() string { return toolFromEnv("DOCKER", "docker") }

// AdbBin is the Android device bridge.
func AdbBin() string { return toolFromEnv("ADB", "adb") }

// XbuildBin is the cross-compilation and device-deployment tool.
func XbuildBin() string { return toolFromEnv("XBUILD", "x") }

func toolFromEnv(envName, fallback string) string {
	if v := os.Getenv(envName); v != "" {
		return v
	}
	return fallback
}
