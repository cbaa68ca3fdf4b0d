// Command probe opens a page in a visible browser with the same options as
// the renewal run, reports which renew label matches and saves a screenshot.
// Use it to check the label variants against a live panel page.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/ibeckermayer/renew4me/internal/browser"
	"github.com/ibeckermayer/renew4me/internal/config"
	"github.com/ibeckermayer/renew4me/internal/panel"
)

type options struct {
	config   string
	url      string
	shot     string
	headless bool
	keep     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.config, "config", "", "Config file (default: the user config path)")
	flag.StringVar(&opts.url, "url", "", "Page to probe (default: the configured server URL)")
	flag.StringVar(&opts.shot, "shot", "probe.png", "Screenshot path")
	flag.BoolVar(&opts.headless, "headless", false, "Run without a window")
	flag.BoolVar(&opts.keep, "keep", false, "Keep the browser open until Enter is pressed")
	flag.Parse()

	if err := run(opts); err != nil {
		log.Fatal(err)
	}
}

// run returns instead of exiting so the deferred Close always stops Chrome.
func run(opts options) error {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	if opts.url == "" {
		opts.url = cfg.Target.ServerURL
	}
	matchers, err := cfg.Matchers()
	if err != nil {
		return errors.Wrap(err, "invalid labels")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	s, err := browser.NewLauncher(browser.Config{
		Headless:  opts.headless,
		UserAgent: cfg.Browser.UserAgent,
		NoSandbox: cfg.Browser.NoSandbox,
	}).Open(ctx)
	if err != nil {
		return errors.Wrap(err, "start browser")
	}
	defer s.Close()

	log.Printf("Opening %s ...", opts.url)
	if err := s.Navigate(ctx, opts.url); err != nil {
		return err
	}
	idleCtx, idleCancel := context.WithTimeout(ctx, cfg.Timeouts.ServerIdle.Duration)
	if err := s.WaitNetworkIdle(idleCtx); err != nil {
		log.Printf("Network did not go idle: %v", err)
	}
	idleCancel()

	for _, m := range matchers {
		n, err := s.Count(ctx, m)
		if err != nil {
			log.Printf("%-16s error: %v", m.Name, err)
			continue
		}
		fmt.Printf("%-16s %-32s %d match(es)\n", m.Name, m, n)
	}

	if m, n, ok, err := panel.Find(ctx, s, matchers); err == nil && ok {
		fmt.Printf("\nRenewal would click %s (%d candidates)\n", m, n)
	} else {
		fmt.Println("\nNo renew control found")
	}

	if err := s.Screenshot(ctx, opts.shot); err != nil {
		log.Printf("Failed to save screenshot: %v", err)
	}

	if opts.keep {
		fmt.Println("Press Enter to close the browser...")
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
	}
	return nil
}
