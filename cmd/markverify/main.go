// Command markverify is a standalone tool for verifying watermarked text.
//
// It recovers and authenticates the invisible watermark embedded by markd
// without requiring a running proxy, making it suitable for:
// - Offline verification
// - Third-party audits
// - Automated verification pipelines
//
// Usage:
//
//	markverify [flags] [file]
//
// Examples:
//
//	# Verify a file
//	markverify response.txt
//
//	# Verify from stdin with JSON output
//	cat response.txt | markverify -format json
//
//	# Scripting: suppress output, rely on the exit code
//	markverify -quiet response.txt && echo authentic
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"markd/internal/watermark"
)

var (
	// Version information (set at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	formatStr := flag.String("format", "text", "output format: text, json")
	quiet := flag.Bool("quiet", false, "quiet mode - only set the exit code")
	exitCode := flag.Bool("exit-code", true, "exit with non-zero code when no valid watermark is found")
	versionFlag := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "markverify - Verify watermarked text\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [file]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Reads from the given file, or from stdin when no file is given.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s response.txt\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  cat response.txt | %s -format json\n", os.Args[0])
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("markverify %s (commit: %s, built: %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	if *formatStr != "text" && *formatStr != "json" {
		fmt.Fprintf(os.Stderr, "Error: unknown format: %s (use text or json)\n", *formatStr)
		os.Exit(2)
	}

	text, err := readInput(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}

	result := watermark.Verify(text)

	if !*quiet {
		switch *formatStr {
		case "json":
			printJSON(result)
		default:
			printText(result)
		}
	}

	if *exitCode && !result.Valid() {
		os.Exit(1)
	}
}

// readInput reads the text to verify from a file, or stdin when path is
// empty or "-".
func readInput(path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

func printText(result watermark.Result) {
	if result.Valid() {
		fmt.Println("Watermark: VALID")
		fmt.Printf("  Subject:   %s\n", result.SubjectID)
		fmt.Printf("  Embedded:  %s\n", time.Unix(result.Timestamp, 0).UTC().Format(time.RFC3339))
		return
	}

	fmt.Printf("Watermark: %s\n", result.Status)
	fmt.Printf("  Reason: %s\n", result.Reason)
	if result.Status == watermark.StatusSignatureMismatch {
		fmt.Printf("  Claimed subject:   %s\n", result.SubjectID)
		fmt.Printf("  Claimed timestamp: %s\n", time.Unix(result.Timestamp, 0).UTC().Format(time.RFC3339))
		fmt.Printf("  Claimed signature: %s\n", result.Signature)
	}
}

func printJSON(result watermark.Result) {
	out := map[string]interface{}{
		"valid":  result.Valid(),
		"status": string(result.Status),
	}
	if result.Reason != "" {
		out["reason"] = result.Reason
	}
	if result.Status == watermark.StatusValid || result.Status == watermark.StatusSignatureMismatch {
		out["timestamp"] = result.Timestamp
		out["subject_id"] = result.SubjectID
	}
	if result.Signature != "" {
		out["signature"] = result.Signature
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}
