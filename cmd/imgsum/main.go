package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chriskillpack/imgsum"
	"github.com/chriskillpack/imgsum/describer"
	"github.com/chriskillpack/imgsum/internal/config"
	"github.com/chriskillpack/imgsum/internal/confluence"
	"github.com/chriskillpack/imgsum/internal/logger"
	"github.com/chriskillpack/imgsum/internal/metrics"
	"github.com/chriskillpack/imgsum/internal/openai"
	"github.com/chriskillpack/imgsum/internal/retry"
	"github.com/chriskillpack/imgsum/summarizer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	envPath   = flag.String("env", ".env", "Path to an optional env file")
	pageIDs   = flag.String("pages", "", "Comma separated Confluence page ids to process")
	filePath  = flag.String("file", "", "Process page markup from a local file instead of Confluence")
	fileID    = flag.String("id", "local", "Page id used for -file")
	fileTitle = flag.String("title", "", "Page title used for -file")
	format    = flag.String("format", "json", "Output format, json or yaml")
	dbPath    = flag.String("db", "", "Path to database, overrides DB_PATH")
	llamaSrv  = flag.String("llama", "", "Address of running llama server, overrides LLAMA_SERVER")
	useOpenAI = flag.Bool("openai", false, "Use (Azure) OpenAI")
	parallel  = flag.Int("parallel", 2, "Number of pages processed at once")
	serveAddr = flag.String("serve", "", "Serve stored results on this address, e.g. :8080")

	lameduck atomic.Bool
)

type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	describr describer.Describer
	source   *confluence.Client
	pipeline *imgsum.Pipeline
	db       *imgsum.DB
	registry *prometheus.Registry
}

// newApp wires the application for the selected mode. Serving only needs the
// store, a vision backend is checked by /healthz when one is configured.
func newApp(ctx context.Context, cfg *config.Config, lg *zap.Logger, serving bool) (*app, error) {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout()}

	llamaServer := cfg.LlamaServer
	if *llamaSrv != "" {
		llamaServer = *llamaSrv
	}
	describerOpts := imgsum.InitOptions{
		LlamaServer: llamaServer,
		LlamaSeed:   cfg.LlamaSeed,
		OpenAI:      *useOpenAI,
		OpenAIOptions: openai.Options{
			Deployment:        cfg.AzureDeployment,
			AzureEndpoint:     cfg.AzureEndpoint,
			APIVersion:        cfg.APIVersion,
			APIKey:            firstNonEmpty(cfg.AzureAPIKey, cfg.OpenAIAPIKey),
			RequestsPerMinute: cfg.RequestsPerMinute,
		},
		HttpClient: httpClient,
	}

	var d describer.Describer
	if !serving || llamaServer != "" || *useOpenAI {
		var err error
		if d, err = imgsum.NewDescriber(describerOpts); err != nil {
			return nil, err
		}
	}

	var source *confluence.Client
	if !serving {
		if *filePath == "" && cfg.ConfluenceURL == "" {
			return nil, fmt.Errorf("CONFLUENCE_URL is required to fetch pages")
		}
		// Without a site only absolute image URLs can be fetched, enough for
		// local files
		var err error
		source, err = confluence.New(cfg.ConfluenceURL, cfg.ConfluenceUsername, cfg.ConfluenceAPIToken, httpClient)
		if err != nil {
			return nil, err
		}
	}

	path := cfg.DBPath
	if *dbPath != "" {
		path = *dbPath
	}
	db, err := imgsum.NewDB(ctx, path)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	a := &app{
		cfg:      cfg,
		logger:   lg,
		describr: d,
		source:   source,
		db:       db,
		registry: reg,
	}
	if serving {
		return a, nil
	}

	policy := retry.Default(describer.ErrRateLimited)
	policy.MaxAttempts = cfg.RetryMaxAttempts
	policy.MinBackoff = cfg.MinBackoff()
	policy.MaxBackoff = cfg.MaxBackoff()

	s := summarizer.New(d, policy, lg)
	s.OnRetry = m.SummarizeRetries.Inc

	a.pipeline = imgsum.New(source, s, imgsum.Options{
		MaxImageBytes: cfg.MaxImageBytes,
		Concurrency:   cfg.ImageConcurrency,
		RequireHTTPS:  cfg.RequireHTTPS,
		OriginalsDir:  cfg.OriginalsDir,
		Logger:        lg,
		Metrics:       m,
	})

	return a, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// loadPages returns the pages named on the command line.
func (a *app) loadPages(ctx context.Context) ([]imgsum.Page, error) {
	if *filePath != "" {
		body, err := os.ReadFile(*filePath)
		if err != nil {
			return nil, err
		}
		return []imgsum.Page{{ID: *fileID, Title: *fileTitle, Body: string(body)}}, nil
	}

	var pages []imgsum.Page
	for id := range strings.SplitSeq(*pageIDs, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		cp, err := a.source.GetPage(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetching page %s: %w", id, err)
		}
		pages = append(pages, imgsum.Page{ID: cp.ID, Title: cp.Title, Body: cp.Body.View.Value})
	}
	return pages, nil
}

func (a *app) run(ctx context.Context) error {
	if !a.describr.IsHealthy(ctx) {
		return fmt.Errorf("%s server is not responding", a.describr.Name())
	}

	pages, err := a.loadPages(ctx)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return fmt.Errorf("no pages given, use -pages or -file")
	}
	a.logger.Info("processing pages",
		zap.Int("pages", len(pages)),
		zap.String("describer", a.describr.Name()),
		zap.String("model", a.describr.Model()))

	bar := progressbar.NewOptions(
		len(pages),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Summarizing page images"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)

	results := make([]*imgsum.PageResult, len(pages))
	var errcnt atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*parallel)
	for i, page := range pages {
		if lameduck.Load() {
			break
		}
		if errcnt.Load() >= 5 {
			a.logger.Error("too many errors, not starting more pages")
			break
		}

		g.Go(func() error {
			defer bar.Add(1)

			res, err := a.pipeline.ProcessPage(gctx, page, summarizer.Metadata{})
			if res == nil {
				errcnt.Add(1)
				a.logger.Error("processing page", zap.String("page_id", page.ID), zap.Error(err))
				return nil
			}
			results[i] = res

			if err != nil {
				a.logger.Warn("page interrupted, keeping partial result", zap.String("page_id", page.ID), zap.Error(err))
			}

			// Partial results of a cancelled page are still stored
			if _, err := a.db.SavePageResult(context.WithoutCancel(gctx), res, a.describr.Name(), time.Now(), 100); err != nil {
				return fmt.Errorf("saving page %s: %w", page.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	bar.Finish()

	if n, err := a.db.CountImages(context.WithoutCancel(ctx)); err == nil {
		a.logger.Info("stored images", zap.Int("total", n))
	}

	return writeResults(os.Stdout, *format, results)
}

func sighandler(ch chan os.Signal, cancel context.CancelFunc) {
	for {
		<-ch
		if lameduck.Load() {
			// Already in lame duck, hard stop
			fmt.Fprintln(os.Stderr, "Exiting")
			cancel()
			return
		} else {
			fmt.Fprintln(os.Stderr, "SIGINT received, finishing started pages...")
			lameduck.Store(true)
		}
	}
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Fatal(err)
	}
	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer lg.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *serveAddr != "" {
		// The server has no work to drain, stop on the first SIGINT
		ctx, cancel = signal.NotifyContext(ctx, os.Interrupt)
		defer cancel()
	} else {
		sigch := make(chan os.Signal, 2)
		signal.Notify(sigch, os.Interrupt)
		go sighandler(sigch, cancel)
	}

	a, err := newApp(ctx, cfg, lg, *serveAddr != "")
	if err != nil {
		lg.Fatal("initializing", zap.Error(err))
	}
	defer a.db.Close()

	if *serveAddr != "" {
		if err := a.serve(ctx, *serveAddr); err != nil {
			lg.Fatal("serving", zap.Error(err))
		}
		return
	}

	if err := a.run(ctx); err != nil {
		lg.Fatal("run", zap.Error(err))
	}
}
