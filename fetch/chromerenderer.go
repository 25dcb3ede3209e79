package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/jakopako/tagcheck/catalog"
	"github.com/jakopako/tagcheck/config"
	"github.com/jakopako/tagcheck/log"
	"github.com/jakopako/tagcheck/utils"
)

// The ChromeRenderer renders js
type ChromeRenderer struct {
	cfg          config.RenderConfig
	resolver     *PageTypeResolver
	allocContext context.Context
	cancelAlloc  context.CancelFunc
}

func NewChromeRenderer(cfg config.RenderConfig, c *catalog.Catalog) *ChromeRenderer {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(1920, 1080), // init with a desktop view (sometimes pages look different on mobile, eg buttons are missing)
	)
	if cfg.UserAgent != "" {
		opts = append(opts,
			chromedp.UserAgent(cfg.UserAgent))
	}
	allocContext, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	if cfg.PageLoadWaitMs == 0 {
		cfg.PageLoadWaitMs = 2000 // default
	}
	return &ChromeRenderer{
		cfg:          cfg,
		resolver:     NewPageTypeResolver(c),
		allocContext: allocContext,
		cancelAlloc:  cancelAlloc,
	}
}

func (r *ChromeRenderer) Cancel() {
	r.cancelAlloc()
}

// Render navigates to the given url, waits for the page to settle,
// resolves the page marker variables and captures a screenshot. The
// passed context bounds the whole render; on expiry ErrRenderTimeout is
// returned.
func (r *ChromeRenderer) Render(ctx context.Context, urlStr string, hint string) (*Artifact, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("renderer", "chrome"), slog.String("url", urlStr))
	logger.Debug("rendering page", slog.String("user-agent", r.cfg.UserAgent))

	timeout := time.Duration(r.cfg.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	chromeCtx, cancel := chromedp.NewContext(r.allocContext)
	defer cancel()
	// propagate the deadline into the chrome context
	chromeCtx, cancelChrome := context.WithTimeout(chromeCtx, timeout)
	defer cancelChrome()

	artifact := &Artifact{
		URL:       urlStr,
		Variables: map[string]string{},
	}

	sleepTime := time.Duration(r.cfg.PageLoadWaitMs) * time.Millisecond
	actions := []chromedp.Action{
		chromedp.Navigate(urlStr),
		chromedp.Sleep(sleepTime),
		chromedp.Location(&artifact.FinalURL),
	}
	logger.Debug(fmt.Sprintf("appended chrome actions: Navigate, Sleep(%v), Location", sleepTime))

	// resolve page marker variables from the page's runtime state
	var rawVariables string
	if r.cfg.PageVariablesJS != "" {
		actions = append(actions, chromedp.Evaluate(wrapJSONStringify(r.cfg.PageVariablesJS), &rawVariables))
	}
	var rawPageType string
	if r.cfg.PageTypeJS != "" {
		actions = append(actions, chromedp.Evaluate(wrapString(r.cfg.PageTypeJS), &rawPageType))
	}

	actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		artifact.HTML, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	actions = append(actions, chromedp.CaptureScreenshot(&artifact.Screenshot))

	if err := chromedp.Run(chromeCtx, actions...); err != nil {
		if ctx.Err() != nil || chromeCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %s after %v", ErrRenderTimeout, urlStr, timeout)
		}
		return nil, &NavigationError{URL: urlStr, Err: err}
	}

	if rawVariables != "" {
		if err := json.Unmarshal([]byte(rawVariables), &artifact.Variables); err != nil {
			logger.Warn(fmt.Sprintf("failed to parse page variables: %v", err))
		}
	}

	artifact.PageType = r.resolver.Resolve(hint, rawPageType, artifact)
	logger.Debug(fmt.Sprintf("resolved page type '%s'", artifact.PageType))

	if config.Debug {
		r.dumpDebugArtifacts(logger, urlStr, artifact)
	}
	return artifact, nil
}

// wrapString guards a marker expression so that missing markers yield
// an empty string instead of a js error.
func wrapString(expr string) string {
	return fmt.Sprintf("(() => { try { return String(%s ?? '') } catch (e) { return '' } })()", expr)
}

// wrapJSONStringify serializes a marker object expression to a json
// string, empty on any js error.
func wrapJSONStringify(expr string) string {
	return fmt.Sprintf("(() => { try { return JSON.stringify(%s ?? {}) } catch (e) { return '' } })()", expr)
}

func (r *ChromeRenderer) dumpDebugArtifacts(logger *slog.Logger, urlStr string, artifact *Artifact) {
	if r.cfg.DebugDir != "" {
		if err := os.MkdirAll(r.cfg.DebugDir, os.ModePerm); err != nil {
			logger.Error(fmt.Sprintf("failed to create debug directory: %v", err))
			return
		}
	}
	u, _ := url.Parse(urlStr)
	base, err := utils.RandomString(u.Host)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to generate debug file name: %v", err))
		return
	}
	screenshotFile := path.Join(r.cfg.DebugDir, fmt.Sprintf("%s.png", base))
	if err := os.WriteFile(screenshotFile, artifact.Screenshot, 0644); err != nil {
		logger.Error(fmt.Sprintf("failed to write screenshot: %v", err))
	} else {
		logger.Debug(fmt.Sprintf("wrote screenshot to file %s", screenshotFile))
	}
	htmlFile := path.Join(r.cfg.DebugDir, fmt.Sprintf("%s.html", base))
	if err := os.WriteFile(htmlFile, []byte(artifact.HTML), 0644); err != nil {
		logger.Error(fmt.Sprintf("failed to write html: %v", err))
	} else {
		logger.Debug(fmt.Sprintf("wrote html to file %s", htmlFile))
	}
}
