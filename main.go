package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"vrschool-media/config"
	"vrschool-media/content"
	"vrschool-media/cookies"
	"vrschool-media/ffmpeg"
	"vrschool-media/handlers"
	"vrschool-media/identities"
	"vrschool-media/jobs"
	"vrschool-media/notify"
	"vrschool-media/pipeline"
	"vrschool-media/proxy"
	"vrschool-media/storage"
	"vrschool-media/ytdlp"
)

func main() {

	initLogger()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("failed to read .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalln(err)
	}

	log.Infof("GitSHA: %s", config.GetGitSHA())
	log.Infof("BuildDate: %s", config.GetBuildDate())

	for _, initFn := range []func(*logrus.Logger) error{
		content.Init, cookies.Init, ffmpeg.Init, handlers.Init, identities.Init,
		jobs.Init, notify.Init, pipeline.Init, proxy.Init, storage.Init, ytdlp.Init,
	} {
		if err := initFn(log); err != nil {
			log.Fatalln(err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idents, contents, closeDB, err := openStores(ctx, cfg.Database)
	if err != nil {
		log.Fatalln(err)
	}
	defer closeDB()

	// object storage
	objects, err := storage.NewMinioStore(storage.Options{
		Endpoint:      cfg.Storage.Endpoint,
		Region:        cfg.Storage.Region,
		Bucket:        cfg.Storage.Bucket,
		AccessKey:     cfg.Storage.AccessKey,
		SecretKey:     cfg.Storage.SecretKey,
		UseSSL:        cfg.Storage.UseSSL,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	})
	if err != nil {
		log.Fatalln(err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		log.Fatalf("object storage: %v", err)
	}

	// operator alerts
	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.SMTP.Host != "" {
		notifier = notify.NewEmailNotifier(cfg.SMTP.Host, cfg.SMTP.Port,
			cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From, cfg.SMTP.To)
	} else {
		log.Warnln("VRSCHOOL_SMTP_HOST is not set, alerts only go to the log")
	}
	notifier = notify.NewThrottled(notifier, cfg.SMTP.Cooldown)

	// extraction
	strategies, err := ytdlp.LoadStrategies(cfg.Pipeline.StrategiesFile)
	if err != nil {
		log.Fatalln(err)
	}
	extractor := ytdlp.NewExtractor()
	chain := ytdlp.NewChain(extractor, strategies, cfg.Pipeline.AttemptTimeout)
	if v, err := extractor.Version(ctx); err != nil {
		log.Errorf("yt-dlp unavailable: %v", err)
	} else {
		log.Infof("yt-dlp %s, %d strategies", v, len(strategies))
	}

	cookieManager := cookies.NewManager(cookies.Options{
		Path:          cfg.Cookies.Path,
		RefreshAfter:  cfg.Cookies.RefreshAfter,
		MaxAge:        cfg.Cookies.MaxAge,
		LockTimeout:   cfg.Cookies.LockTimeout,
		StaleLockAge:  cfg.Cookies.StaleLockAge,
		ProbeURL:      "https://www.youtube.com/watch?v=" + cfg.Cookies.ProbeVideoID,
		LoginEmail:    cfg.Cookies.LoginEmail,
		LoginPassword: cfg.Cookies.LoginPassword,
	}, extractor, &cookies.ChromeLogin{
		ExecPath: cfg.Cookies.ChromePath,
		Timeout:  2 * time.Minute,
	}, notifier)

	scratchDir := config.GetScratchDir()
	if err := os.MkdirAll(scratchDir, 0700); err != nil {
		log.Fatalf("failed to create scratch dir %s: %v", scratchDir, err)
	}

	staleAfter := pipeline.StaleAfter(cfg.Pipeline.InFlightStaleAfter, len(strategies), cfg.Pipeline.AttemptTimeout)
	if staleAfter != cfg.Pipeline.InFlightStaleAfter {
		log.Warnf("in-flight stale limit raised from %v to %v to cover %d strategies of %v",
			cfg.Pipeline.InFlightStaleAfter, staleAfter, len(strategies), cfg.Pipeline.AttemptTimeout)
	}

	svc := pipeline.New(pipeline.Deps{
		Identities: idents,
		Contents:   contents,
		Downloader: chain,
		Metadata:   extractor,
		Cookies:    cookieManager,
		Uploader:   storage.NewUploader(objects),
		Probe:      ffmpeg.Probe,
		Notifier:   notifier,
	}, pipeline.Options{
		ScratchDir:         scratchDir,
		InFlightWait:       cfg.Pipeline.InFlightWait,
		InFlightStaleAfter: staleAfter,
		AuthAlertThreshold: cfg.Pipeline.AuthAlertThreshold,
	})

	queue := jobs.New(svc.Process, cfg.Pipeline.MaxConcurrentJobs, cfg.Pipeline.DispatchInterval)

	var wg sync.WaitGroup
	background := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	background(func() { queue.Start(ctx) })
	background(func() { scratchCleaner(ctx, scratchDir, cfg.Pipeline.ScratchMaxAge) })
	if cfg.Cookies.CheckInterval > 0 {
		background(func() { cookieWatcher(ctx, cookieManager, cfg.Cookies.CheckInterval) })
	}

	requeued, err := svc.Recover(ctx, func(id string) { queue.Enqueue(id) })
	if err != nil {
		log.Errorf("recovery: %v", err)
	} else if requeued > 0 {
		log.Infof("requeued %d content items", requeued)
	}

	// admin
	key, err := sessionKey()
	if err != nil {
		log.Fatalln(err)
	}
	admin, err := handlers.NewAdminAuth(cfg.Admin.Secret, cfg.Admin.SecretHash, key, config.GetSecure())
	if err != nil {
		log.Fatalf("admin secret: %v", err)
	}

	h := &handlers.Handlers{
		Contents:     contents,
		Queue:        queue,
		Pipeline:     svc,
		Signer:       storage.NewSigner(objects, cfg.Storage.SignedURLTTL),
		SignedURLTTL: cfg.Storage.SignedURLTTL,
		Resolver:     extractor,
		Cookies:      cookieManager,
		Proxy: proxy.New(proxy.Options{
			MaxConnections:  cfg.Proxy.MaxConnections,
			UpstreamTimeout: cfg.Proxy.UpstreamTimeout,
			AllowedHosts:    cfg.Proxy.AllowedHosts,
		}),
		Admin:      admin,
		BaseURL:    cfg.Server.BaseURL,
		ScratchDir: scratchDir,
	}

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.Renderer = handlers.NewTemplate()
	e.Validator = handlers.NewValidator()

	// Routes
	h.Register(e)

	// Start server
	go func() {
		if err := e.Start(cfg.Server.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalln(err)
		}
	}()

	<-ctx.Done()
	log.Infoln("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
	wg.Wait()
	queue.Wait()
}
