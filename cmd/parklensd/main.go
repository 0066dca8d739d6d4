// parklensd is the parklens daemon: it serves the image ingest, analysis,
// and cache administration API over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/containerd/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/parklens/parklens/api/server"
	"github.com/parklens/parklens/api/server/router/analysis"
	imagerouter "github.com/parklens/parklens/api/server/router/image"
	"github.com/parklens/parklens/api/server/router/system"
	"github.com/parklens/parklens/blobstore"
	"github.com/parklens/parklens/cache"
	"github.com/parklens/parklens/daemon"
	"github.com/parklens/parklens/daemon/config"
	"github.com/parklens/parklens/image"
	"github.com/parklens/parklens/vision"
)

type daemonOptions struct {
	configFile string
	listenAddr string
	debug      bool
}

func main() {
	opts := &daemonOptions{}
	cmd := &cobra.Command{
		Use:           "parklensd [OPTIONS]",
		Short:         "A self-hosted image analysis daemon for park and landscape imagery",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts)
		},
	}
	opts.installFlags(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (o *daemonOptions) installFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.configFile, "config-file", "", "Daemon configuration file")
	flags.StringVar(&o.listenAddr, "listen-addr", "", "Override the configured listen address")
	flags.BoolVarP(&o.debug, "debug", "D", false, "Enable debug logging")
}

func runDaemon(opts *daemonOptions) error {
	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: log.RFC3339NanoFixed,
		FullTimestamp:   true,
	})
	if opts.debug {
		_ = log.SetLevel("debug")
	}

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	if opts.listenAddr != "" {
		cfg.ListenAddr = opts.listenAddr
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return errors.Wrapf(err, "creating state dir %s", cfg.StateDir)
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	images, err := image.NewStore(filepath.Join(cfg.StateDir, "images.db"), blobs, image.StoreConfig{
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxUploadBytes:      cfg.MaxUploadBytes,
	})
	if err != nil {
		return err
	}
	defer images.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// the cache fails open, a down redis only costs hit rate
		log.G(ctx).WithError(err).WithField("addr", cfg.Redis.Addr).Warn("redis unreachable, serving uncached")
	}

	resultCache, err := newResultCache(ctx, rdb, cfg)
	if err != nil {
		return err
	}

	guard := vision.NewGuard(
		vision.NewHTTPClient(cfg.Vision.Endpoint, cfg.Vision.APIKey, time.Duration(cfg.Vision.TimeoutSeconds)*time.Second),
		vision.GuardOptions{
			Retry:            cfg.RetryPolicy(),
			FailureThreshold: cfg.Vision.CircuitBreaker.FailureThreshold,
			OpenDuration:     time.Duration(cfg.Vision.CircuitBreaker.RecoverySeconds) * time.Second,
		},
	)

	d := daemon.New(cfg, images, blobs, guard, resultCache)

	srv := server.New(
		imagerouter.NewRouter(d, cfg.MaxUploadBytes),
		analysis.NewRouter(d),
		system.NewRouter(d),
	)
	return srv.Serve(ctx, cfg.ListenAddr, promhttp.Handler())
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.Blob.Backend {
	case "s3":
		return blobstore.NewS3Store(ctx, blobstore.S3Options{
			Bucket:        cfg.Blob.Bucket,
			Region:        cfg.Blob.Region,
			Endpoint:      cfg.Blob.Endpoint,
			PublicBaseURL: cfg.Blob.PublicBaseURL,
			Retry:         cfg.RetryPolicy(),
		})
	default:
		log.G(ctx).Warn("using in-memory blob store, blobs will not survive restarts")
		return blobstore.NewMemoryStore(""), nil
	}
}

func newResultCache(ctx context.Context, rdb redis.UniversalClient, cfg *config.Config) (*cache.Cache, error) {
	maxBytes, err := cfg.CacheMaxBytes()
	if err != nil {
		return nil, err
	}
	ttls := cache.DefaultTTLs()
	overrides, err := cfg.CacheTTLs()
	if err != nil {
		return nil, err
	}
	for kind, ttl := range overrides {
		ttls[kind] = ttl
	}
	return cache.New(ctx, rdb, cache.Config{
		MaxBytes:            maxBytes,
		TTLs:                ttls,
		SingleFlightTimeout: time.Duration(cfg.Cache.SingleFlightTimeoutSecond) * time.Second,
		Registerer:          prometheus.DefaultRegisterer,
	})
}
