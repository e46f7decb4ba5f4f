package imgsum

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/chriskillpack/imgsum/fetcher"
	"github.com/chriskillpack/imgsum/internal/metrics"
	"github.com/chriskillpack/imgsum/locator"
	"github.com/chriskillpack/imgsum/normalizer"
	"github.com/chriskillpack/imgsum/summarizer"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Stages at which an image can be skipped.
const (
	StageScheme    = "scheme"
	StageFetch     = "fetch"
	StageNormalize = "normalize"
	StageSummarize = "summarize"
	StageCancelled = "cancelled"
)

// Page is a document whose body may embed images.
type Page struct {
	ID    string
	Title string
	Body  string
}

// PageImage is the summarized form of one image on a page.
type PageImage struct {
	URL           string  `json:"url" yaml:"url"`
	Title         string  `json:"title" yaml:"title"`
	Base64Encoded string  `json:"base64_encoded" yaml:"base64_encoded"`
	Summary       *string `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// Skipped records an image that produced no PageImage.
type Skipped struct {
	Reference locator.Reference
	Stage     string
	Err       error
}

// PageResult holds the images of a page in ordinal order.
type PageResult struct {
	PageID  string
	Images  []PageImage
	Skipped []Skipped
}

// ImageTitle is the stable title of the ordinal'th image of a page.
func ImageTitle(pageID string, ordinal int) string {
	return fmt.Sprintf("%s_image_%d", pageID, ordinal)
}

// ImageSummarizer is satisfied by *summarizer.Summarizer.
type ImageSummarizer interface {
	Summarize(ctx context.Context, dataURI string, md summarizer.Metadata) (*string, error)
}

type Options struct {
	// MaxImageBytes is the payload size above which images are downscaled.
	// Zero means normalizer.DefaultMaxBytes.
	MaxImageBytes int

	// Concurrency is the number of images of a page processed at once.
	// Values below 2 process images one at a time.
	Concurrency int

	// RequireHTTPS skips images with an absolute non-https URL. Relative
	// URLs are resolved by the content fetcher and always allowed.
	RequireHTTPS bool

	// OriginalsDir, when set, receives a copy of every fetched image named
	// after its title.
	OriginalsDir string

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Pipeline turns the images of a page into PageImages. It holds no per-page
// state and may be used for several pages concurrently.
type Pipeline struct {
	fetcher    *fetcher.Fetcher
	summarizer ImageSummarizer
	opts       Options
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func New(cf fetcher.ContentFetcher, s ImageSummarizer, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	return &Pipeline{
		fetcher:    fetcher.New(cf, opts.Logger),
		summarizer: s,
		opts:       opts,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

type outcome struct {
	image   *PageImage
	skipped *Skipped
}

// ProcessPage locates, fetches, normalizes and summarizes every image of page.
// md is copied for each image and enriched with the page title and the
// image's alt text, md itself is not modified.
//
// A failing image is recorded in PageResult.Skipped and never stops the
// others. If ctx is cancelled the remaining images are skipped and the
// partial result is returned together with ctx.Err().
func (p *Pipeline) ProcessPage(ctx context.Context, page Page, md summarizer.Metadata) (*PageResult, error) {
	start := time.Now()
	logger := p.logger.With(zap.String("page_id", page.ID), zap.String("run_id", uuid.NewString()))

	refs, err := locator.Locate(page.Body, logger)
	if err != nil {
		return nil, fmt.Errorf("locating images on page %s: %w", page.ID, err)
	}
	p.metrics.ImagesLocated.Add(float64(len(refs)))
	logger.Info("processing page images", zap.Int("images", len(refs)))

	// Every image writes to its own slot so results come out in ordinal order
	// regardless of completion order.
	outcomes := make([]outcome, len(refs))

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			outcomes[i] = p.processImage(ctx, logger, page, ref, md)
			return nil
		})
	}
	g.Wait()

	res := &PageResult{PageID: page.ID}
	for _, o := range outcomes {
		if o.image != nil {
			res.Images = append(res.Images, *o.image)
		} else {
			res.Skipped = append(res.Skipped, *o.skipped)
		}
	}

	p.metrics.PageDuration.Observe(time.Since(start).Seconds())
	logger.Info("processed page images",
		zap.Int("summarized", len(res.Images)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Duration("elapsed", time.Since(start)))

	return res, ctx.Err()
}

func (p *Pipeline) processImage(ctx context.Context, logger *zap.Logger, page Page, ref locator.Reference, md summarizer.Metadata) outcome {
	title := ImageTitle(page.ID, ref.Ordinal)
	logger = logger.With(zap.String("url", ref.URL), zap.Int("ordinal", ref.Ordinal))

	skip := func(stage, result string, err error) outcome {
		if stage == StageCancelled || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			stage, result = StageCancelled, metrics.OutcomeCancelled
		}
		p.metrics.ImagesTotal.WithLabelValues(result).Inc()
		logger.Warn("skipping image", zap.String("stage", stage), zap.Error(err))
		return outcome{skipped: &Skipped{Reference: ref, Stage: stage, Err: err}}
	}

	if err := ctx.Err(); err != nil {
		return skip(StageCancelled, metrics.OutcomeCancelled, err)
	}

	if p.opts.RequireHTTPS {
		if u, err := url.Parse(ref.URL); err != nil || (u.IsAbs() && u.Scheme != "https") {
			return skip(StageScheme, metrics.OutcomeScheme, fmt.Errorf("image url %q is not https", ref.URL))
		}
	}

	img, err := p.fetcher.Fetch(ctx, ref)
	if err != nil {
		return skip(StageFetch, metrics.OutcomeFetch, err)
	}

	if p.opts.OriginalsDir != "" {
		if err := saveOriginal(p.opts.OriginalsDir, title, img.Data); err != nil {
			logger.Warn("saving original image", zap.Error(err))
		}
	}

	norm, err := normalizer.Normalize(img, p.opts.MaxImageBytes)
	if err != nil {
		return skip(StageNormalize, metrics.OutcomeNormalize, err)
	}
	if norm.Resized {
		p.metrics.ImagesResized.Inc()
		logger.Info("resized image", zap.Int("original_bytes", len(img.Data)), zap.Int("resized_bytes", norm.Size()))
	}

	imgmd := md.Clone()
	if page.Title != "" {
		imgmd.Set(summarizer.KeyDocumentTitle, page.Title)
	}
	if ref.AltText != nil && *ref.AltText != "" {
		imgmd.Set(summarizer.KeyAltText, *ref.AltText)
	}

	summary, err := p.summarizer.Summarize(ctx, norm.DataURI, imgmd)
	if err != nil {
		return skip(StageSummarize, metrics.OutcomeSummarize, err)
	}
	if summary == nil {
		p.metrics.ImagesTotal.WithLabelValues(metrics.OutcomeNoSummary).Inc()
		logger.Info("model returned no summary")
	} else {
		p.metrics.ImagesTotal.WithLabelValues(metrics.OutcomeSummarized).Inc()
	}

	return outcome{image: &PageImage{
		URL:           ref.URL,
		Title:         title,
		Base64Encoded: norm.Base64(),
		Summary:       summary,
	}}
}

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

func saveOriginal(dir, title string, data []byte) error {
	ext, ok := imageExtensions[http.DetectContentType(data)]
	if !ok {
		ext = ".bin"
	}
	// Page ids come from the command line, keep files inside dir
	name := title + ext
	if filepath.Base(name) != name || !filepath.IsLocal(name) {
		return fmt.Errorf("image title %q is not a valid file name", title)
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}
