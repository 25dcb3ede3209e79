package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jakopako/tagcheck/analytics"
	"github.com/jakopako/tagcheck/catalog"
	"github.com/jakopako/tagcheck/config"
	"github.com/jakopako/tagcheck/fetch"
	"github.com/jakopako/tagcheck/log"
	"github.com/jakopako/tagcheck/output"
	"github.com/jakopako/tagcheck/run"
	"github.com/jakopako/tagcheck/types"
	"github.com/jakopako/tagcheck/utils"
	"github.com/jakopako/tagcheck/vision"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
)

var version = "dev"

func printPageResults(results []types.PageResult, summary types.RunSummary) {
	slog.Info("printing page summary")
	// sort by page id alphabetically
	sort.Slice(results, func(i, j int) bool {
		return results[i].PageID < results[j].PageID
	})

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Page", "Status", "Accuracy", "Reason"})

	for _, r := range results {
		accuracy := fmt.Sprintf("%.2f", r.Accuracy)
		if r.Status != types.StatusOK {
			accuracy = "-"
		}
		row := []string{r.PageID, r.Status, accuracy, utils.ShortenString(r.Reason, 40)}
		if r.Status == types.StatusSkipped {
			table.Rich(row, []tablewriter.Colors{{tablewriter.Normal, tablewriter.FgRedColor}, {tablewriter.Normal, tablewriter.FgRedColor}, {tablewriter.Normal, tablewriter.FgRedColor}, {tablewriter.Normal, tablewriter.FgRedColor}})
		} else if r.Status == types.StatusNoComparison {
			table.Rich(row, []tablewriter.Colors{{tablewriter.Normal, tablewriter.FgYellowColor}, {tablewriter.Normal, tablewriter.FgYellowColor}, {tablewriter.Normal, tablewriter.FgYellowColor}, {tablewriter.Normal, tablewriter.FgYellowColor}})
		} else {
			table.Append(row)
		}
	}
	table.SetFooter([]string{"total", strconv.Itoa(summary.NrPages), fmt.Sprintf("%.2f", summary.OverallAccuracy), fmt.Sprintf("%d skipped", summary.NrSkipped)})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT})
	table.SetBorder(false)
	table.Render()
}

func main() {
	singlePage := flag.String("p", "", "The id of the page task to be run.")
	toStdout := flag.Bool("stdout", false, "If set to true the results will be written to stdout despite any other existing writer configurations.")
	configLoc := flag.String("c", "./config.yml", "The location of the configuration file.")
	printVersion := flag.Bool("v", false, "The version of tagcheck.")
	debugFlag := flag.Bool("debug", false, "Prints debug logs and writes screenshots and rendered html's to files.")
	summaryFlag := flag.Bool("summary", false, "Print a per-page summary table at the end.")

	flag.Parse()

	if *printVersion {
		buildInfo, ok := debug.ReadBuildInfo()
		if ok {
			if buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
				fmt.Println(buildInfo.Main.Version)
				return
			}
		}
		fmt.Println(version)
		return
	}

	config.Debug = *debugFlag
	log.InitializeDefaultLogger()

	// credentials, eg GEMINI_API_KEY, may come from a .env file
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded environment from .env")
	}

	cfg, err := config.NewConfig(*configLoc)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		os.Exit(1)
	}
	if *toStdout {
		cfg.Writer.Type = output.STDOUT_WRITER_TYPE
	}

	// the tag configuration is fatal when unreadable or empty, there is
	// nothing to evaluate without it
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		os.Exit(1)
	}

	tasks := []types.PageTask{}
	for _, task := range cfg.Pages {
		if *singlePage == "" || *singlePage == task.ID {
			tasks = append(tasks, task)
		}
	}
	if len(tasks) == 0 {
		slog.Error("no page tasks configured")
		os.Exit(1)
	}

	writer, err := output.NewWriter(&cfg.Writer)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	defer writer.Close()

	if cfg.Render.UserAgent == "" {
		cfg.Render.UserAgent = "tagcheck analytics tag checker (github.com/jakopako/tagcheck)"
	}
	renderer := fetch.NewChromeRenderer(cfg.Render, cat)
	defer renderer.Cancel()

	inferrer, err := vision.NewGeminiInferrer(context.Background(), cfg.Vision)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		os.Exit(1)
	}
	verifier := vision.NewVerifier(inferrer, cfg.Vision.DisableBatching)
	analyticsClient := analytics.NewClient(cfg.Analytics)

	runner := run.NewRunner(cat, renderer, verifier, analyticsClient, cfg.RenderConcurrency, cfg.InferConcurrency)
	runID := uuid.NewString()
	slog.Info(fmt.Sprintf("starting run %s with %d page tasks (render concurrency %d, inference concurrency %d)",
		runID, len(tasks), cfg.RenderConcurrency, cfg.InferConcurrency))

	// a SIGINT stops the admission of new tasks, in-flight tasks drain
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	resultsChan := make(chan types.PageResult)
	writerChan := make(chan types.PageResult)

	var writerWg sync.WaitGroup
	writerWg.Add(1)
	go func() {
		defer writerWg.Done()
		writer.Write(writerChan)
	}()

	allResults := []types.PageResult{}
	var collectWg sync.WaitGroup
	collectWg.Add(1)
	go func() {
		defer collectWg.Done()
		for result := range resultsChan {
			allResults = append(allResults, result)
			writerChan <- result
		}
		close(writerChan)
	}()

	runner.Run(ctx, tasks, resultsChan)
	collectWg.Wait()
	writerWg.Wait()

	summary := run.Summarize(runID, allResults, start, time.Now())
	writer.WriteSummary(summary)

	if *summaryFlag {
		printPageResults(allResults, summary)
	}
}
