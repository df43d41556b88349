//go:build ignore

// build.go - mfimport build script
// Usage: go run build.go [-target=TARGET] [-v]
// Targets: build, test, clean, release

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

const (
	version = "0.1.0"
	binary  = "mfimport"
	source  = "./cmd/mfimport"
	distDir = "dist"
)

// releaseTargets are the GOOS/GOARCH pairs packaged by the release target.
var releaseTargets = [][2]string{
	{"linux", "amd64"},
	{"linux", "arm64"},
	{"darwin", "arm64"},
	{"windows", "amd64"},
}

var (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorBlue  = "\033[34m"
)

func main() {
	target := flag.String("target", "build", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	start := time.Now()
	var err error
	switch *target {
	case "build":
		err = buildBinary(runtime.GOOS, runtime.GOARCH, *verbose)
	case "test":
		err = runTests(*verbose)
	case "clean":
		err = os.RemoveAll(distDir)
	case "release":
		err = buildRelease(*verbose)
	default:
		showHelp()
		os.Exit(1)
	}
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("%s completed in %s", *target, time.Since(start).Round(time.Millisecond)))
}

func buildBinary(goos, goarch string, verbose bool) error {
	name := binary
	if goos == "windows" {
		name += ".exe"
	}
	output := filepath.Join(distDir, goos+"_"+goarch, name)
	printInfo(fmt.Sprintf("Building %s...", output))

	ldflags := fmt.Sprintf("-s -w -X main.Version=%s -X main.BuildTime=%s",
		version, time.Now().UTC().Format(time.RFC3339))
	args := []string{"build", "-trimpath", "-ldflags", ldflags, "-o", output, source}
	if verbose {
		args = append([]string{"build", "-v"}, args[1:]...)
	}

	cmd := exec.Command("go", args...)
	cmd.Env = append(os.Environ(), "GOOS="+goos, "GOARCH="+goarch, "CGO_ENABLED=0")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build %s/%s: %w", goos, goarch, err)
	}
	return nil
}

func buildRelease(verbose bool) error {
	if err := os.RemoveAll(distDir); err != nil {
		return err
	}
	for _, t := range releaseTargets {
		if err := buildBinary(t[0], t[1], verbose); err != nil {
			return err
		}
	}
	return nil
}

func runTests(verbose bool) error {
	printInfo("Running tests...")
	args := []string{"test", "-race", "./..."}
	if verbose {
		args = append(args, "-v")
	}
	cmd := exec.Command("go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func showHelp() {
	fmt.Println("Usage: go run build.go -target=TARGET")
	fmt.Println("  build    build mfimport for this platform")
	fmt.Println("  test     run the test suite with the race detector")
	fmt.Println("  clean    remove " + distDir)
	fmt.Println("  release  cross-compile every release target")
}

func printInfo(msg string) {
	fmt.Printf("%s[INFO]%s %s\n", colorBlue, colorReset, msg)
}

func printSuccess(msg string) {
	fmt.Printf("%s[SUCCESS]%s %s\n", colorGreen, colorReset, msg)
}

func printError(msg string) {
	fmt.Printf("%s[ERROR]%s %s\n", colorRed, colorReset, msg)
}
