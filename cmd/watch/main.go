package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"designscore-backend/internal/watch"
)

var criteriaOrder = []string{
	"visualHierarchy",
	"typography",
	"colorUsage",
	"compositionLayout",
	"originality",
	"consistency",
	"scalability",
}

var criteriaLabels = map[string]string{
	"visualHierarchy":   "Visual hierarchy",
	"typography":        "Typography",
	"colorUsage":        "Color usage",
	"compositionLayout": "Composition and layout",
	"originality":       "Originality",
	"consistency":       "Consistency",
	"scalability":       "Scalability",
}

func main() {
	var (
		imagePath    string
		previousPath string
		tier         string
		evaluationID string
		server       string
		guestID      string
		configPath   string
	)

	flag.StringVar(&imagePath, "image", "", "path to the design image to evaluate (required)")
	flag.StringVar(&previousPath, "previous", "", "path to a previous version for comparison")
	flag.StringVar(&tier, "tier", "", "evaluation tier: standard or pro")
	flag.StringVar(&evaluationID, "id", "", "re-run an existing evaluation")
	flag.StringVar(&server, "server", "", "API base URL")
	flag.StringVar(&guestID, "guest", "", "guest identity sent to the API")
	flag.StringVar(&configPath, "config", defaultConfigPath(), "path to the TOML config file")
	flag.Parse()

	if imagePath == "" {
		fmt.Fprintln(os.Stderr, "usage: watch -image <path> [-previous <path>] [-tier standard|pro]")
		os.Exit(2)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		printError(fmt.Sprintf("read config: %v", err))
		os.Exit(1)
	}
	if server == "" {
		server = cfg.Server
	}
	if guestID == "" {
		guestID = cfg.GuestID
	}
	if guestID == "" {
		guestID = "cli"
	}
	if tier == "" {
		tier = cfg.Tier
	}

	image, mediaType, err := readImageFile(imagePath)
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}

	var previous []byte
	if previousPath != "" {
		previous, _, err = readImageFile(previousPath)
		if err != nil {
			printError(err.Error())
			os.Exit(1)
		}
	}

	printHeader(imagePath, previousPath, tier, server)

	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond)
	s.Suffix = " Submitting..."
	s.Start()

	consumer := &watch.Consumer{
		BaseURL:    server,
		HTTPClient: &http.Client{},
		GuestID:    guestID,
		OnUpdate: func(snap watch.Snapshot) {
			suffix := fmt.Sprintf(" %3d%%  %s", snap.Percent, snap.Message)
			if snap.ConnState == watch.ConnPolling {
				suffix += "  (stream lost, polling)"
			}
			s.Suffix = suffix
		},
	}

	snap, err := consumer.Run(context.Background(), watch.SubmitRequest{
		Image:         image,
		ImageName:     filepath.Base(imagePath),
		MediaType:     mediaType,
		PreviousImage: previous,
		Tier:          tier,
		EvaluationID:  evaluationID,
	})
	s.Stop()

	if err != nil {
		printError(err.Error())
		if snap.EvaluationID != "" {
			fmt.Printf("evaluation id: %s (re-run with -id to retry)\n", snap.EvaluationID)
		}
		os.Exit(1)
	}

	if snap.ConnState == watch.ConnFailed {
		printError(fmt.Sprintf("%s: %s", snap.ErrorCode, snap.ErrorMessage))
		os.Exit(1)
	}

	printSuccess("Evaluation complete")
	printResult(snap.Result)
}

func readImageFile(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	mediaType := ""
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		mediaType = "image/png"
	case ".jpg", ".jpeg":
		mediaType = "image/jpeg"
	case ".webp":
		mediaType = "image/webp"
	default:
		return nil, "", fmt.Errorf("unsupported image type: %s", path)
	}
	return data, mediaType, nil
}

func printHeader(imagePath, previousPath, tier, server string) {
	cyan := color.New(color.FgCyan, color.Bold)
	fmt.Println()
	cyan.Println("Design evaluation")
	fmt.Printf("Image:  %s\n", imagePath)
	if previousPath != "" {
		fmt.Printf("Against: %s\n", previousPath)
	}
	if tier != "" {
		fmt.Printf("Tier:   %s\n", tier)
	}
	fmt.Printf("Server: %s\n", server)
	fmt.Println()
}

func printSuccess(msg string) {
	green := color.New(color.FgGreen)
	green.Printf("✓ %s\n", msg)
}

func printError(msg string) {
	red := color.New(color.FgRed)
	red.Printf("✗ %s\n", msg)
}

// printResult renders the final payload. A comparison payload carries
// successRate and nested results; a single payload is one result.
func printResult(result map[string]any) {
	if result == nil {
		return
	}
	if _, ok := result["successRate"]; ok {
		printComparison(result)
		return
	}
	printScoreTable(result)
}

func printScoreTable(result map[string]any) {
	bold := color.New(color.Bold)
	fmt.Println()
	for _, name := range criteriaOrder {
		entry, ok := mapValue(result, "criteria", name)
		if !ok {
			continue
		}
		points := intValue(entry["points"])
		maxPoints := intValue(entry["maxPoints"])
		fmt.Printf("  %-24s %2d / %2d\n", criteriaLabels[name], points, maxPoints)
	}
	fmt.Println()
	bold.Printf("  Total: %d/100  (%s)\n", intValue(result["totalScore"]), stringValue(result["rating"]))

	printList("Strengths", result["strengths"], color.New(color.FgGreen))
	printList("Weaknesses", result["weaknesses"], color.New(color.FgYellow))
	if summary := stringValue(result["summary"]); summary != "" {
		fmt.Printf("\n  %s\n", summary)
	}
	for _, key := range []string{"colorAnalysis", "typographyAnalysis", "visualLanguageAnalysis"} {
		if text := stringValue(result[key]); text != "" {
			fmt.Printf("\n  %s\n", text)
		}
	}
}

func printComparison(result map[string]any) {
	bold := color.New(color.Bold)

	if newResult, ok := result["newResult"].(map[string]any); ok {
		printScoreTable(newResult)
	}

	fmt.Println()
	if rate, ok := result["successRate"].(float64); ok {
		bold.Printf("  Change vs previous: %+.1f%%\n", rate)
	}

	if deltas, ok := result["perCriterionDelta"].(map[string]any); ok {
		names := make([]string, 0, len(deltas))
		for name := range deltas {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if d := intValue(deltas[name]); d != 0 {
				fmt.Printf("  %-24s %+d\n", criteriaLabels[name], d)
			}
		}
	}

	printList("Improvements", result["improvements"], color.New(color.FgGreen))
	printList("Regressions", result["regressions"], color.New(color.FgRed))
	printList("Recommendations", result["recommendations"], color.New(color.FgCyan))
}

func printList(title string, raw any, c *color.Color) {
	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return
	}
	fmt.Println()
	c.Printf("  %s:\n", title)
	for _, item := range items {
		if text, ok := item.(string); ok {
			fmt.Printf("    - %s\n", text)
		}
	}
}

func mapValue(m map[string]any, keys ...string) (map[string]any, bool) {
	current := m
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func intValue(raw any) int {
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func stringValue(raw any) string {
	if s, ok := raw.(string); ok {
		return s
	}
	return ""
}
