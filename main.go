package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bext-lang/b/codegen"
	"github.com/bext-lang/b/config"
	"github.com/bext-lang/b/parser"
	"github.com/bext-lang/b/viewer"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var Version = "dev"

// stringList collects the values of a repeatable flag.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, " ")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// defaultTarget picks the backend matching the host, the way a B
// programmer expects `b program.b` to just work. Hosts we have no backend
// for fall back to the IR dump.
func defaultTarget() codegen.Target {
	switch {
	case runtime.GOOS == "linux" && runtime.GOARCH == "amd64":
		return codegen.TargetFasmX8664Linux
	case runtime.GOOS == "linux" && runtime.GOARCH == "arm64":
		return codegen.TargetGasAArch64Linux
	case runtime.GOOS == "windows" && runtime.GOARCH == "amd64":
		return codegen.TargetFasmX8664Windows
	}
	return codegen.TargetIR
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] <inputs...> [--] [run arguments]\n", filepath.Base(os.Args[0]))
	fmt.Fprintf(os.Stderr, "OPTIONS:\n")
	flag.PrintDefaults()
}

func main() {
	// Everything after a bare "--" is forwarded to the program under -run.
	args := os.Args[1:]
	var runArgs []string
	for i, arg := range args {
		if arg == "--" {
			runArgs = append(runArgs, args[i+1:]...)
			args = args[:i]
			break
		}
	}

	var (
		targetName  = flag.String("t", "", "Compilation target. Pass \"list\" to get the list of available targets")
		outputPath  = flag.String("o", "", "Output path")
		runProgram  = flag.Bool("run", false, "Run the compiled program (if applicable for the target)")
		tuiMode     = flag.Bool("tui", false, "Inspect the compiled IR in an interactive terminal viewer")
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Config file path (default: platform config dir)")
	)
	var linkerFlags stringList
	flag.Var(&linkerFlags, "L", "Append a flag to the linker of the target platform")

	flag.Usage = usage
	if err := flag.CommandLine.Parse(args); err != nil {
		os.Exit(1)
	}

	if *showVersion {
		fmt.Printf("b compiler %s\n", Version)
		os.Exit(0)
	}

	if *targetName == "list" {
		fmt.Fprintf(os.Stderr, "Compilation targets:\n")
		for _, name := range codegen.TargetNameList() {
			fmt.Fprintf(os.Stderr, "    %s\n", name)
		}
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	target := defaultTarget()
	switch {
	case *targetName != "":
		t, ok := codegen.TargetByName(*targetName)
		if !ok {
			usage()
			fmt.Fprintf(os.Stderr, "ERROR: unknown target `%s`\n", *targetName)
			os.Exit(1)
		}
		target = t
	case cfg.Compiler.DefaultTarget != "":
		t, ok := codegen.TargetByName(cfg.Compiler.DefaultTarget)
		if !ok {
			fmt.Fprintf(os.Stderr, "ERROR: unknown default_target `%s` in config\n", cfg.Compiler.DefaultTarget)
			os.Exit(1)
		}
		target = t
	}

	inputPaths := flag.Args()
	if len(inputPaths) == 0 {
		usage()
		fmt.Fprintf(os.Stderr, "ERROR: no inputs are provided\n")
		os.Exit(1)
	}

	c := parser.NewCompiler(target.WordSize())
	for _, inputPath := range inputPaths {
		src, err := os.ReadFile(inputPath) // #nosec G304 -- user-provided source path
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: could not read %s: %s\n", inputPath, err)
			os.Exit(1)
		}
		if err := c.CompileFile(inputPath, string(src)); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	program := c.Program()

	if *tuiMode {
		if err := viewer.New(program).Run(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	output, err := codegen.Generate(target, program)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	linkerFlags = append(linkerFlags, cfg.Linker.Flags...)
	if err := produceArtifact(target, cfg, inputPaths[0], *outputPath, output, linkerFlags, *runProgram, runArgs); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// stripSuffix removes suffix from s when present.
func stripSuffix(s, suffix string) (string, bool) {
	if strings.HasSuffix(s, suffix) {
		return s[:len(s)-len(suffix)], true
	}
	return s, false
}

// basePath derives the artifact base name from the first input when no -o
// is given: program.b compiles to program, anything else gets .out
// appended so the source is never overwritten.
func basePath(inputPath, outputPath string) string {
	if outputPath != "" {
		return outputPath
	}
	if base, ok := stripSuffix(inputPath, ".b"); ok {
		return base
	}
	return inputPath + ".out"
}

func runCommand(name string, args ...string) error {
	fmt.Printf("CMD: %s %s\n", name, strings.Join(args, " "))
	cmd := exec.Command(name, args...) // #nosec G204 -- toolchain commands from config
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command `%s` failed: %w", name, err)
	}
	return nil
}

// produceArtifact writes the generated text, assembles and links it where
// the target calls for it, and optionally runs the result.
func produceArtifact(target codegen.Target, cfg *config.Config, inputPath, outputPath, output string, linkerFlags []string, run bool, runArgs []string) error {
	switch target {
	case codegen.TargetIR:
		effectiveOutputPath := outputPath
		if effectiveOutputPath == "" {
			base, _ := stripSuffix(inputPath, ".b")
			effectiveOutputPath = base + ".ir"
		}
		if err := os.WriteFile(effectiveOutputPath, []byte(output), 0644); err != nil { // #nosec G306 -- listing file
			return err
		}
		fmt.Printf("Generated %s\n", effectiveOutputPath)
		if run {
			return fmt.Errorf("ERROR: the `%s` target produces nothing to run", target.Name())
		}
		return nil

	case codegen.TargetFasmX8664Linux:
		if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
			return fmt.Errorf("ERROR: cross-compilation of %s is not supported for now", target.Name())
		}
		base := basePath(inputPath, outputPath)
		asmPath := base + target.OutputExt()
		objPath := base + ".o"
		if err := os.WriteFile(asmPath, []byte(output), 0644); err != nil { // #nosec G306 -- assembly file
			return err
		}
		fmt.Printf("Generated %s\n", asmPath)
		if err := runCommand(cfg.Toolchain.Fasm, asmPath, objPath); err != nil {
			return err
		}
		ccArgs := append([]string{"-no-pie", "-o", base, objPath}, linkerFlags...)
		if err := runCommand(cfg.Toolchain.Cc, ccArgs...); err != nil {
			return err
		}
		cleanupIntermediates(cfg, asmPath, objPath)
		if run {
			return runBinary(base, runArgs)
		}
		return nil

	case codegen.TargetFasmX8664Windows:
		base := basePath(inputPath, outputPath)
		base, _ = stripSuffix(base, ".exe")
		exePath := base + ".exe"
		asmPath := base + target.OutputExt()
		objPath := base + ".obj"
		if err := os.WriteFile(asmPath, []byte(output), 0644); err != nil { // #nosec G306 -- assembly file
			return err
		}
		fmt.Printf("Generated %s\n", asmPath)
		cc := cfg.Toolchain.Cc
		if runtime.GOOS != "windows" {
			cc = cfg.Toolchain.Mingw
		}
		if err := runCommand(cfg.Toolchain.Fasm, asmPath, objPath); err != nil {
			return err
		}
		ccArgs := append([]string{"-no-pie", "-o", exePath, objPath}, linkerFlags...)
		if err := runCommand(cc, ccArgs...); err != nil {
			return err
		}
		cleanupIntermediates(cfg, asmPath, objPath)
		if run {
			if runtime.GOOS != "windows" {
				return runCommand(cfg.Toolchain.Wine, append([]string{exePath}, runArgs...)...)
			}
			return runBinary(exePath, runArgs)
		}
		return nil

	case codegen.TargetGasX8664Linux, codegen.TargetGasAArch64Linux:
		hostArch := map[codegen.Target]string{
			codegen.TargetGasX8664Linux:   "amd64",
			codegen.TargetGasAArch64Linux: "arm64",
		}[target]
		if runtime.GOOS != "linux" || runtime.GOARCH != hostArch {
			return fmt.Errorf("ERROR: cross-compilation of %s is not supported for now", target.Name())
		}
		base := basePath(inputPath, outputPath)
		asmPath := base + target.OutputExt()
		objPath := base + ".o"
		if err := os.WriteFile(asmPath, []byte(output), 0644); err != nil { // #nosec G306 -- assembly file
			return err
		}
		fmt.Printf("Generated %s\n", asmPath)
		if err := runCommand(cfg.Toolchain.As, "-o", objPath, asmPath); err != nil {
			return err
		}
		ccArgs := append([]string{"-no-pie", "-o", base, objPath}, linkerFlags...)
		if err := runCommand(cfg.Toolchain.Cc, ccArgs...); err != nil {
			return err
		}
		cleanupIntermediates(cfg, asmPath, objPath)
		if run {
			return runBinary(base, runArgs)
		}
		return nil
	}

	return fmt.Errorf("ERROR: unknown target `%s`", target.Name())
}

// cleanupIntermediates removes the assembly and object files after a
// successful link, unless the config says to keep them.
func cleanupIntermediates(cfg *config.Config, paths ...string) {
	if cfg.Compiler.KeepAsm {
		return
	}
	for _, path := range paths {
		_ = os.Remove(path)
	}
}

// runBinary executes the produced artifact. A bare name is qualified with
// ./ so the shell-less exec does not go looking in PATH.
func runBinary(path string, args []string) error {
	if !strings.ContainsRune(path, os.PathSeparator) && !filepath.IsAbs(path) {
		path = "." + string(os.PathSeparator) + path
	}
	fmt.Printf("CMD: %s %s\n", path, strings.Join(args, " "))
	cmd := exec.Command(path, args...) // #nosec G204 -- running the artifact the user asked for
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}
