// Command scan drives a full comment scan run against a sift server from
// a JSON file of comments, following checkpoints and waiting for
// adjudication before printing the aggregated result.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/pulsecheck/sift/internal/scan"
	"github.com/pulsecheck/sift/pkg/scanclient"
)

func main() {
	var (
		file  = flag.String("file", "", "JSON file containing an array of comments")
		url   = flag.String("url", "http://localhost:8080", "sift server base URL")
		token = flag.String("token", os.Getenv("SIFT_TOKEN"), "bearer token")
		runID = flag.String("run", "", "run id (generated when empty)")
		mode  = flag.String("mode", scan.ModeRedact, "default processing mode")
		demo  = flag.Bool("demo", false, "run as a demo scan (no credit deduction)")
	)
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	comments, err := loadComments(*file)
	if err != nil {
		log.Fatalf("load comments: %v", err)
	}

	if *runID == "" {
		*runID = uuid.NewString()[:8]
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	client := &scanclient.Client{
		BaseURL: *url,
		Token:   *token,
		Logger:  logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("scan starting", "run", *runID, "comments", len(comments))

	result, err := client.Run(ctx, scan.Request{
		Comments:    comments,
		DefaultMode: *mode,
		ScanRunID:   *runID,
		IsDemoScan:  *demo,
	})
	if err != nil {
		var insufficient *scanclient.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			log.Fatalf("insufficient credits: need %d, have %d", insufficient.Required, insufficient.Available)
		}
		log.Fatalf("scan failed: %v", err)
	}

	logger.Info("scan finished",
		"run", *runID,
		"calls", result.Calls,
		"concerning", result.Summary.Concerning,
		"identifiable", result.Summary.Identifiable,
		"adjudication_completed", result.AdjudicationCompleted,
	)

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	if err := out.Encode(result); err != nil {
		log.Fatalf("encode result: %v", err)
	}
}

// loadComments accepts either full comment objects or bare strings.
func loadComments(path string) ([]scan.Comment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var comments []scan.Comment
	if err := json.Unmarshal(data, &comments); err == nil && len(comments) > 0 && comments[0].ID != "" {
		return comments, nil
	}

	var texts []string
	if err := json.Unmarshal(data, &texts); err != nil {
		return nil, fmt.Errorf("expected an array of comments or strings: %w", err)
	}

	comments = make([]scan.Comment, len(texts))
	for i, text := range texts {
		comments[i] = scan.Comment{
			ID:           fmt.Sprintf("c-%d", i+1),
			OriginalRow:  i + 1,
			OriginalText: text,
		}
	}
	return comments, nil
}
