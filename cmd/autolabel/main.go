// autolabel 自动标注: HTTP 服务, 或对图片/目录做一次性推理
//
//	autolabel serve
//	autolabel infer [-start 0] [-count 0] [-render out/] path...
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/getcharzp/go-autolabel"
	"github.com/getcharzp/go-autolabel/annotation"
	"github.com/getcharzp/go-autolabel/backend"
	"github.com/getcharzp/go-autolabel/inference"
	"github.com/getcharzp/go-autolabel/internal/config"
	applog "github.com/getcharzp/go-autolabel/internal/log"
	"github.com/getcharzp/go-autolabel/internal/server"
	"github.com/sirupsen/logrus"
	"github.com/up-zero/gotool/imageutil"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd string, args []string) error {
	if cmd != "serve" && cmd != "infer" {
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := applog.New(applog.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}

	cache := backend.NewEngineCache(
		backend.WithBaseConfig(cfg.EngineConfig()),
		backend.WithCacheLogger(logger),
	)
	manager := inference.NewManager(
		inference.WithEngineCache(cache),
		inference.WithLogger(logger),
	)
	defer manager.Close()

	if cmd == "serve" {
		return serve(cfg, manager, logger)
	}
	return infer(args, cfg, manager, logger)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s serve | infer [-start N] [-count N] [-render dir] path...\n", filepath.Base(os.Args[0]))
}

func serve(cfg *config.Config, manager *inference.Manager, logger *logrus.Logger) error {
	srv, err := server.New(
		server.WithManager(manager),
		server.WithLogger(logger),
		server.WithValidator(config.NewValidator()),
		server.WithDefaultRemote(cfg.Remote()),
	)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.Addr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigChan:
		logger.Info("shutting down server...")
		return srv.Shutdown()
	}
}

func infer(args []string, cfg *config.Config, manager *inference.Manager, logger *logrus.Logger) error {
	fset := flag.NewFlagSet("infer", flag.ExitOnError)
	start := fset.Int("start", 0, "index of the first image")
	count := fset.Int("count", 0, "number of images to process, 0 = all")
	render := fset.String("render", "", "write annotated previews to this directory")
	if err := fset.Parse(args); err != nil {
		return err
	}

	paths, err := collectImages(fset.Args())
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no images found")
	}

	policy := inference.CountAll()
	if *count > 0 {
		policy = inference.CountN(*count)
	}
	n := policy.Resolve(len(paths), *start)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := manager.InferBatch(ctx, paths, *start, n, inference.Config{Mode: cfg.InferenceMode(), Count: policy})
	if res == nil {
		return err
	}
	for _, r := range res.Results {
		fmt.Printf("%s\t%d\t%.1fms\n", r.ImagePath, len(r.Annotations), r.InferenceTimeMs)
	}
	fmt.Printf("success=%d error=%d total=%.1fms\n", res.SuccessCount, res.ErrorCount, res.TotalTimeMs)
	if err != nil {
		return err
	}

	if *render != "" {
		return renderPreviews(*render, res.Results, logger)
	}
	return nil
}

// collectImages 展开目录 (不递归), 结果按路径排序
func collectImages(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Type().IsRegular() && annotation.IsImageFile(e.Name()) {
				paths = append(paths, filepath.Join(arg, e.Name()))
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func renderPreviews(dir string, results []*inference.Result, logger *logrus.Logger) error {
	if err := os.MkdirAll(dir, fs.ModePerm); err != nil {
		return err
	}
	td, err := autolabel.NewTextDrawer("")
	if err != nil {
		return err
	}
	defer td.Close()

	for _, r := range results {
		img, err := imageutil.Open(r.ImagePath)
		if err != nil {
			logger.WithField("image_path", r.ImagePath).WithError(err).Warn("failed to open image for preview")
			continue
		}
		out := filepath.Join(dir, filepath.Base(r.ImagePath)+".jpg")
		if err := imageutil.Save(out, annotation.Draw(img, r.Annotations, td, 2), 90); err != nil {
			return err
		}
	}
	return nil
}
