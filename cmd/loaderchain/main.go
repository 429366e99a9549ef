// Command loaderchain resolves module specifiers through a chain of loaders.
//
//	loaderchain [-config f] [-loader spec]... [-cwd dir] [-referrer url]
//	            [-transport chan|ring] [-log-level l] SPECIFIER...
//
// Each result is printed as specifier, location and kind separated by tabs.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"loaderchain.dev/internal/config"
	"loaderchain.dev/internal/esm"
	"loaderchain.dev/internal/keepalive"
	"loaderchain.dev/internal/logging"
	"loaderchain.dev/internal/modulemap"
	"loaderchain.dev/internal/port"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("empty value")
	}
	*l = append(*l, v)
	return nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("loaderchain", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "path to a YAML configuration file")
	var loaderFlags listFlag
	fs.Var(&loaderFlags, "loader", "loader specifier, appended after configured loaders (repeatable)")
	cwd := fs.String("cwd", "", "directory loader and relative specifiers resolve against (defaults to cwd)")
	referrer := fs.String("referrer", "", "URL of the importing module")
	transport := fs.String("transport", "", "port transport: chan or ring")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn or error")
	jobs := fs.Int("jobs", 16, "maximum concurrent resolutions")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	die := func(format string, args ...any) int {
		fmt.Fprintf(stderr, format+"\n", args...)
		return 1
	}
	if fs.NArg() == 0 {
		return die("at least one specifier is required")
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return die("load config: %v", err)
		}
	}
	cfg.Loaders = append(cfg.Loaders, loaderFlags...)
	if *transport != "" {
		cfg.Transport = port.Transport(*transport)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return die("invalid config: %v", err)
	}
	level, _ := logging.ParseLevel(cfg.Log.Level)
	log := logging.New(level, stderr)

	host := keepalive.NewHost()
	l, err := esm.Initialize(ctx, esm.Options{
		Cwd:       *cwd,
		Loaders:   cfg.Loaders,
		Builtins:  cfg.Builtins,
		Packages:  cfg.Packages,
		Transport: cfg.Transport,
		Host:      host,
		Logger:    log,
	})
	if err != nil {
		return die("initialize loaders: %v", err)
	}

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var fatal error
	var fatalMu sync.Mutex
	go func() {
		select {
		case err := <-l.Fatal():
			fatalMu.Lock()
			fatal = err
			fatalMu.Unlock()
			cancel()
		case <-rctx.Done():
		}
	}()

	specs := fs.Args()
	records := make([]*modulemap.Record, len(specs))
	errs := make([]error, len(specs))
	var g errgroup.Group
	g.SetLimit(max(*jobs, 1))
	for i, spec := range specs {
		g.Go(func() error {
			records[i], errs[i] = l.Resolve(rctx, spec, *referrer)
			return nil
		})
	}
	g.Wait()

	code := 0
	for i, spec := range specs {
		if errs[i] != nil {
			fmt.Fprintf(stderr, "%s: %v\n", spec, errs[i])
			code = 1
			continue
		}
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", spec, records[i].Location, records[i].Descriptor.Kind)
	}
	fatalMu.Lock()
	if fatal != nil {
		fmt.Fprintf(stderr, "loader chain failed: %v\n", fatal)
		code = 1
	}
	fatalMu.Unlock()

	l.Close()
	wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer wcancel()
	if err := host.Wait(wctx); err != nil {
		log.Warn("host still referenced at exit", "active", host.Active())
	}
	return code
}
