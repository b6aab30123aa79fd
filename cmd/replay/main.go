// Command replay runs a JSON fixture of raw readings through the ETL pipeline
// against an in-memory store at a fixed clock and prints the result of every
// reading plus the session statistics. With -out it also writes the full
// report, which cmd/validate can later check fixtures against.
//
// Usage:
//
//	go run ./cmd/replay \
//	  -in testdata/readings.json \
//	  -out /tmp/readings.expected.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/couchcryptid/telemetry-quality-etl/internal/replay"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	in := flag.String("in", "", "path to the JSON fixture of raw readings")
	out := flag.String("out", "", "optional output path for the replay report")
	verbose := flag.Bool("v", false, "log pipeline warnings")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -in")
	}

	raws, err := replay.LoadFixture(*in)
	if err != nil {
		return err
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	report, err := replay.Run(context.Background(), raws, logger)
	if err != nil {
		return err
	}

	printRecords(report.Records)
	printStats(report)

	if *out != "" {
		if err := writeJSON(*out, report); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		log.Printf("wrote report: %s", *out)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func printRecords(records []replay.Record) {
	fmt.Printf("%-5s %-8s %-6s %-7s %-9s %s\n", "#", "OK", "VALID", "SCORE", "OUTLIER", "NOTE")
	for _, rec := range records {
		res := rec.Result
		var outliers []string
		if res.Outliers.Temperature {
			outliers = append(outliers, "temp")
		}
		if res.Outliers.Humidity {
			outliers = append(outliers, "hum")
		}
		outlier := "-"
		if len(outliers) > 0 {
			outlier = strings.Join(outliers, ",")
		}
		fmt.Printf("%-5d %-8t %-6t %-7.1f %-9s %s\n",
			rec.Index, res.Success, res.IsValid, res.QualityScore, outlier, res.Error)
	}
}

func printStats(report replay.Report) {
	s := report.Stats
	fmt.Println()
	fmt.Println("Session statistics:")
	fmt.Printf("  processed: %d\n", s.Processed)
	fmt.Printf("  valid:     %d (%.1f%%)\n", s.Valid, s.SuccessRate)
	fmt.Printf("  invalid:   %d\n", s.Invalid)
	fmt.Printf("  outliers:  %d (%.1f%%)\n", s.Outliers, s.OutlierRate)

	q := report.Quality
	if len(q.Recommendations) > 0 {
		fmt.Println()
		fmt.Println("Recommendations:")
		for _, r := range q.Recommendations {
			fmt.Printf("  - %s\n", r)
		}
	}
}
