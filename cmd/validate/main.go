// Command validate replays a fixture through the ETL pipeline and checks the
// outcome against a report previously written by cmd/replay. It verifies the
// number of results, every per-reading result, the session statistics and
// the data quality report, and exits non-zero on any difference.
//
// The expected report is not checked in; record it once with cmd/replay
// and review it before relying on it.
//
// Usage:
//
//	go run ./cmd/replay -in testdata/readings.json -out /tmp/readings.expected.json
//	go run ./cmd/validate \
//	  -fixture testdata/readings.json \
//	  -expected /tmp/readings.expected.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/couchcryptid/telemetry-quality-etl/internal/pipeline"
	"github.com/couchcryptid/telemetry-quality-etl/internal/replay"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// Document ids are generated per run.
var ignoreIDs = cmpopts.IgnoreFields(pipeline.Result{}, "DocumentID")

func main() {
	fixture := flag.String("fixture", "", "path to the JSON fixture of raw readings")
	expected := flag.String("expected", "", "path to the expected replay report")
	flag.Parse()

	if *fixture == "" || *expected == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(*fixture, *expected))
}

func run(fixturePath, expectedPath string) int {
	fmt.Println("=== Replay Fixture Validation ===")
	fmt.Println()

	raws, err := replay.LoadFixture(fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	want, err := loadReport(expectedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load expected report: %v\n", err)
		return 1
	}

	got, err := replay.Run(context.Background(), raws, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: replay: %v\n", err)
		return 1
	}

	// The report is compared after a JSON round trip so both sides carry
	// the same types.
	got, err = roundTrip(got)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: encode replay report: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateCount(want, got),
		validateResults(want, got),
		validateStats(want, got),
		validateQuality(want, got),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-32s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Readings: %d fixture, %d expected\n", len(raws), len(want.Records))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func loadReport(path string) (replay.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return replay.Report{}, err
	}
	var r replay.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return replay.Report{}, err
	}
	return r, nil
}

func roundTrip(r replay.Report) (replay.Report, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return replay.Report{}, err
	}
	var out replay.Report
	err = json.Unmarshal(data, &out)
	return out, err
}

func validateCount(want, got replay.Report) *phase {
	p := &phase{name: "Result count"}
	if len(want.Records) != len(got.Records) {
		p.errorf("expected %d results, got %d", len(want.Records), len(got.Records))
	}
	return p
}

func validateResults(want, got replay.Report) *phase {
	p := &phase{name: "Per-reading results"}
	n := min(len(want.Records), len(got.Records))
	for i := range n {
		if diff := cmp.Diff(want.Records[i].Result, got.Records[i].Result, ignoreIDs); diff != "" {
			p.errorf("reading %d (-want +got):\n%s", i, diff)
		}
	}
	return p
}

func validateStats(want, got replay.Report) *phase {
	p := &phase{name: "Session statistics"}
	if diff := cmp.Diff(want.Stats, got.Stats, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		p.errorf("stats (-want +got):\n%s", diff)
	}
	return p
}

func validateQuality(want, got replay.Report) *phase {
	p := &phase{name: "Data quality report"}
	if diff := cmp.Diff(want.Quality, got.Quality, cmpopts.EquateEmpty()); diff != "" {
		p.errorf("quality report (-want +got):\n%s", diff)
	}
	return p
}
