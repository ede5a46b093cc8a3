// Command helm-pm is a thin example host for the personalization memory
// core: enough of a CLI to drive the gate from a shell for local
// inspection, not an HTTP server.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Mindburn-Labs/helm-pm/pkg/config"
	"github.com/Mindburn-Labs/helm-pm/pkg/persistence"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the CLI entrypoint, split out from main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "dispatch":
		return runDispatchCmd(args[2:], stdout, stderr)
	case "doctor":
		return runDoctorCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "helm-pm — personalization memory core")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  helm-pm <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  dispatch  Read one JSON envelope from stdin and print the result")
	fmt.Fprintln(w, "  doctor    Run the doctor operation against the default store/profile")
	fmt.Fprintln(w, "  export    Run the export operation and print its markdown")
	fmt.Fprintln(w, "  help      Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "ENVIRONMENT:")
	fmt.Fprintln(w, "  HELM_PM_STATE_FILE       path to the shared state file (default helm_pm_state.json)")
	fmt.Fprintln(w, "  HELM_PM_LOCK_TIMEOUT_MS  write-lock timeout in milliseconds (default 5000)")
}

func openGate() (*persistence.Gate, error) {
	cfg := config.Load()
	return persistence.NewGate(cfg.StateFile, time.Duration(cfg.LockTimeoutMs)*time.Millisecond)
}

func nowTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func runDispatchCmd(args []string, stdout, stderr io.Writer) int {
	gate, err := openGate()
	if err != nil {
		fmt.Fprintf(stderr, "open gate: %v\n", err)
		return 1
	}

	var envelope map[string]interface{}
	decoder := json.NewDecoder(os.Stdin)
	if err := decoder.Decode(&envelope); err != nil {
		fmt.Fprintf(stderr, "decode envelope: %v\n", err)
		return 2
	}

	result, err := gate.Dispatch(envelope, nowTimestamp())
	if err != nil {
		fmt.Fprintf(stderr, "dispatch: %v\n", err)
		return 1
	}

	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(stderr, "encode result: %v\n", err)
		return 1
	}
	return 0
}

func runDoctorCmd(args []string, stdout, stderr io.Writer) int {
	gate, err := openGate()
	if err != nil {
		fmt.Fprintf(stderr, "open gate: %v\n", err)
		return 1
	}

	result, err := gate.Dispatch(map[string]interface{}{
		"operation": "doctor",
		"request":   map[string]interface{}{},
	}, nowTimestamp())
	if err != nil {
		fmt.Fprintf(stderr, "doctor: %v\n", err)
		return 1
	}

	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(result)
	return 0
}

func runExportCmd(args []string, stdout, stderr io.Writer) int {
	gate, err := openGate()
	if err != nil {
		fmt.Fprintf(stderr, "open gate: %v\n", err)
		return 1
	}

	result, err := gate.Dispatch(map[string]interface{}{
		"operation": "export",
		"request":   map[string]interface{}{},
	}, nowTimestamp())
	if err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}

	if markdown, ok := result["markdown"].(string); ok {
		fmt.Fprintln(stdout, markdown)
		return 0
	}

	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(result)
	return 0
}
