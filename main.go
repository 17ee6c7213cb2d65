package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/rembg"
	"github.com/chaos-io/cutout/server"
	"github.com/chaos-io/cutout/util"
	nhttp "github.com/chaos-io/cutout/util/http"
	"github.com/chaos-io/cutout/workflow"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const AppName = "cutout"

func main() {
	configPath := flag.String("config", "", "path to config file")
	debugMode := flag.Bool("debug", false, "enable debug logging")
	flag.Usage = usage
	flag.Parse()

	v, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	cfg, err := config.ParseConfig(v)
	if err != nil {
		logrus.Fatalf("parse config: %v", err)
	}

	logger := initLogger(cfg.Log, *debugMode)

	args := flag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		err = serve(cfg, logger)
	case "remove":
		err = remove(cfg, logger, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.WithError(err).Fatal(cmd + " failed")
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file] [-debug] [serve | remove -in image -out dir]\n", AppName)
	flag.PrintDefaults()
}

// initLogger debug 模式用文本格式，其余按配置
func initLogger(cfg config.LogConfig, debugMode bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if debugMode {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	if debugMode || cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	}
	return logger
}

// newBackend /remove-background 使用的抠图后端
func newBackend(cfg *config.Config, log *logrus.Logger) (rembg.Remover, error) {
	cli := nhttp.NewHTTPClientWithTimeout(cfg.Backend.Timeout)
	switch cfg.Backend.Kind {
	case config.BackendHTTP:
		return rembg.NewHTTPRemover(cfg.Backend.Endpoint, rembg.WithClient(cli), rembg.WithLogger(log)), nil
	case config.BackendComfyUI:
		opts := []rembg.BiRefNetOption{
			rembg.WithPollInterval(cfg.Backend.ComfyUI.PollInterval),
			rembg.WithComfyClient(cli),
			rembg.WithComfyLogger(log),
		}
		if path := cfg.Backend.ComfyUI.Workflow; path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read comfyui workflow: %w", err)
			}
			opts = append(opts, rembg.WithWorkflow(string(data)))
		}
		return rembg.NewBiRefNetRemBG(cfg.Backend.ComfyUI.BaseURL, opts...), nil
	default:
		return rembg.NewDefaultRemBG(), nil
	}
}

func viewOptions(cfg *config.Config) workflow.RenderOptions {
	opt := workflow.DefaultRenderOptions()
	opt.MaxWidth = cfg.View.MaxWidth
	opt.MaxHeight = cfg.View.MaxHeight
	opt.StaticOpacity = cfg.View.StaticOpacity
	return opt
}

func serve(cfg *config.Config, log *logrus.Logger) error {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	backend, err := newBackend(cfg, log)
	if err != nil {
		return err
	}

	// 会话里的控制器和浏览器一样走 HTTP 调用远程接口
	remote := rembg.NewHTTPRemover(cfg.RemoteEndpoint(),
		rembg.WithClient(nhttp.NewHTTPClientWithTimeout(cfg.Remote.Timeout)),
		rembg.WithLogger(log),
	)
	source := workflow.NewSource(cfg.Server.MaxUploadBytes)
	view := viewOptions(cfg)
	store := server.NewStore(func(n workflow.Notifier) *workflow.Controller {
		return workflow.NewController(remote, workflow.Options{
			Source:   source,
			Notifier: n,
			Logger:   log,
			View:     view,
		})
	}, log)

	sweeper, err := server.NewSweeper(store, cfg.Session.SweepSpec, cfg.Session.IdleTTL, log)
	if err != nil {
		return err
	}
	sweeper.Start()

	router := server.InitRoutes(
		server.NewHandler(backend, cfg.Server.MaxUploadBytes, log),
		server.NewSessionHandler(store, cfg.Server.MaxUploadBytes, log),
	)

	srv := new(server.Server)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{
			"host":    cfg.Server.Host,
			"port":    cfg.Server.Port,
			"backend": cfg.Backend.Kind,
			"remote":  cfg.RemoteEndpoint(),
		}).Info("server started")
		if err := srv.Run(cfg, router, log); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server")
		<-sweeper.Stop().Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server exited")
	return nil
}

// remove 命令行抠图：直接调用后端，结果写到 out 目录
func remove(cfg *config.Config, log *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	in := fs.String("in", "", "input image path")
	out := fs.String("out", "./output", "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("-in is required")
	}
	if err := os.MkdirAll(*out, os.ModePerm); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	backend, err := newBackend(cfg, log)
	if err != nil {
		return err
	}
	ctrl := workflow.NewController(backend, workflow.Options{
		Source: workflow.NewSource(cfg.Server.MaxUploadBytes),
		Logger: log,
		View:   viewOptions(cfg),
	})

	defer util.Trace(log, "remove "+*in)()
	ctx := context.Background()
	job, err := ctrl.SubmitFile(ctx, *in)
	if err != nil {
		return err
	}
	if _, err := job.Wait(ctx); err != nil {
		return err
	}

	path := filepath.Join(*out, workflow.DownloadName)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	if _, err := ctrl.Download(f); err != nil {
		return err
	}
	log.WithField("output", path).Info("done")
	return nil
}
