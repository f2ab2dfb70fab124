// Command hoffd is Hoff's daemon binary: it loads config.yaml, wires one
// worker/webhook-adapter pair per configured project, and serves the
// webhook and metrics HTTP endpoints until terminated. Grounded on
// cmd/hook/main.go's options/gatherOptions/Validate shape.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hoffbot/hoff/action"
	"github.com/hoffbot/hoff/command"
	"github.com/hoffbot/hoff/config"
	"github.com/hoffbot/hoff/event"
	"github.com/hoffbot/hoff/gitdriver"
	"github.com/hoffbot/hoff/githost"
	"github.com/hoffbot/hoff/internal/logutil"
	"github.com/hoffbot/hoff/metrics"
	"github.com/hoffbot/hoff/project"
	"github.com/hoffbot/hoff/webhook"
	"github.com/hoffbot/hoff/worker"
)

type options struct {
	port int

	configPath        string
	readOnly          bool
	githubTokenFile   string
	webhookSecretFile string
	logLevel          string
}

func (o *options) Validate() error {
	if o.configPath == "" {
		return errors.New("--config-path is required")
	}
	if o.githubTokenFile == "" {
		return errors.New("--github-token-file is required")
	}
	if o.webhookSecretFile == "" {
		return errors.New("--webhook-secret-file is required")
	}
	return nil
}

func gatherOptions() options {
	o := options{}
	flag.IntVar(&o.port, "port", 8888, "Port to listen on.")
	flag.StringVar(&o.configPath, "config-path", "/etc/config/config.yaml", "Path to config.yaml.")
	flag.BoolVar(&o.readOnly, "read-only", false, "Disable destructive actions (comments, pushes); still runs reads.")
	flag.StringVar(&o.githubTokenFile, "github-token-file", "/etc/github/oauth", "Path to the file containing the GitHub token.")
	flag.StringVar(&o.webhookSecretFile, "webhook-secret-file", "/etc/webhook/hmac", "Path to the file containing the webhook HMAC secret.")
	flag.StringVar(&o.logLevel, "log-level", "info", "Logging level: debug, info, warn, error.")
	flag.Parse()
	return o
}

func main() {
	o := gatherOptions()
	if err := o.Validate(); err != nil {
		logrus.Fatalf("invalid options: %v", err)
	}
	logrus.SetFormatter(logutil.NewDefaultFieldsFormatter(nil, logrus.Fields{"component": "hoffd"}))
	if level, err := logrus.ParseLevel(o.logLevel); err == nil {
		logrus.SetLevel(level)
	}

	token, err := readSecret(o.githubTokenFile)
	if err != nil {
		logrus.WithError(err).Fatal("could not read GitHub token file")
	}
	secret, err := readSecret(o.webhookSecretFile)
	if err != nil {
		logrus.WithError(err).Fatal("could not read webhook secret file")
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		logrus.WithError(err).Fatal("could not load config")
	}

	reg := prometheus.NewRegistry()
	mtr := metrics.NewMetrics(reg)

	intake := worker.NewQueue[webhook.RawEvent](cfg.QueueCapacity)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	for _, p := range cfg.Projects {
		p := p
		log := logrus.WithField("project", p.Owner+"/"+p.Repo)

		mainQueue := worker.NewQueue[event.Event](cfg.QueueCapacity)

		gitDriver, err := gitdriver.NewDriver(gctx, remoteURL(p), p.WorkingCopyDir, log)
		if err != nil {
			logrus.WithError(err).Fatalf("could not prepare git working copy for %s/%s", p.Owner, p.Repo)
		}
		hostClient := githost.NewClient(gctx, p.Owner, p.Repo, token, o.readOnly, log)

		interp := &action.Interpreter{
			Git:        gitDriver,
			Host:       hostClient,
			Target:     event.Branch(p.TargetBranch),
			TestBranch: event.Branch(p.TestBranch),
			ReadOnly:   o.readOnly,
			Log:        log,
		}
		store := project.NewStore(p.StateDir, log)
		parser := command.NewMatcher(p.MergeCommand)

		lw, err := worker.NewLogicWorker(p.Owner+"/"+p.Repo, mainQueue, store, interp, parser, log)
		if err != nil {
			logrus.WithError(err).Fatalf("could not load persisted state for %s/%s", p.Owner, p.Repo)
		}

		adapter := &webhook.Adapter{Owner: p.Owner, Repo: p.Repo, Intake: intake, Main: mainQueue, Log: log}

		g.Go(func() error { return lw.Run(gctx) })
		g.Go(func() error { return adapter.Run(gctx) })
	}

	server := &webhook.Server{Secret: []byte(secret), Queue: intake, Metrics: mtr, Log: logrus.WithField("component", "webhook")}
	mux := http.NewServeMux()
	mux.Handle("/hook/github", server)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{Addr: ":" + strconv.Itoa(o.port), Handler: mux}
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-stop
		logrus.Info("shutting down")
		_ = httpServer.Shutdown(context.Background())
		cancel()
	}()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Fatal("hoffd: fatal error")
	}
}

func readSecret(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(b)), nil
}

func remoteURL(p config.Project) string {
	return "https://github.com/" + p.Owner + "/" + p.Repo + ".git"
}
