package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gcpwire/internal/rest"

	natsd "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

const bucketRetries = 5

type config struct {
	NATSURL          string
	HTTPAddr         string
	DescriptorBucket string
	ConfigBucket     string
	Debug            bool
	TestMode         bool
}

func (c *config) load() {
	flag.StringVar(&c.NATSURL, "nats-url", getEnv("NATS_URL", nats.DefaultURL), "NATS server URL")
	flag.StringVar(&c.HTTPAddr, "http-addr", getEnv("HTTP_ADDR", ":8081"), "HTTP server address")
	flag.StringVar(&c.DescriptorBucket, "descriptor-bucket", getEnv("DESCRIPTOR_BUCKET", "DESCRIPTORS"), "JetStream KV bucket for descriptors")
	flag.StringVar(&c.ConfigBucket, "config-bucket", getEnv("CONFIG_BUCKET", "CONFIG"), "JetStream KV bucket for configs")
	flag.BoolVar(&c.Debug, "debug", getEnvBool("DEBUG", false), "Enable debug logging")
	flag.BoolVar(&c.TestMode, "test", getEnvBool("TEST_MODE", false), "Fall back to an embedded NATS server when none is reachable")
	flag.Parse()
}

type server struct {
	cfg           config
	kvDescriptors nats.KeyValue
	kvConfig      nats.KeyValue
	http          *http.Server
	natsServer    *natsd.Server
	natsStoreDir  string
}

func main() {
	var cfg config
	cfg.load()

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting descriptor registry server", "config", cfg)

	srv := &server{
		cfg:  cfg,
		http: &http.Server{Addr: cfg.HTTPAddr, Handler: rest.Routes()},
	}
	if err := srv.setupStorage(); err != nil {
		// The REST layer falls back to in-memory stores when Init gets nils,
		// so a missing NATS server degrades the process instead of killing it.
		slog.Warn("Running without persistent storage", "error", err)
	}
	rest.Init(srv.kvDescriptors, srv.kvConfig)

	go func() {
		slog.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := srv.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	srv.waitForShutdown(5 * time.Second)
}

// setupStorage connects to NATS and provisions the two KV buckets. In test
// mode a failed connection starts an embedded server on a random port and
// retries against it.
func (s *server) setupStorage() error {
	nc, err := s.connectNATS(s.cfg.NATSURL)
	if err != nil {
		if !s.cfg.TestMode {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		slog.Info("No NATS server reachable, starting embedded server", "url", s.cfg.NATSURL)
		url, embErr := s.startEmbeddedNATS()
		if embErr != nil {
			return fmt.Errorf("start embedded NATS server: %w", embErr)
		}
		if nc, err = s.connectNATS(url); err != nil {
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
	}
	slog.Info("Connected to NATS", "url", nc.ConnectedUrl())

	js, err := nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		return fmt.Errorf("JetStream context: %w", err)
	}

	if s.kvDescriptors, err = bucketWithRetry(js, s.cfg.DescriptorBucket, "Descriptor records"); err != nil {
		return fmt.Errorf("create descriptor bucket: %w", err)
	}
	if s.kvConfig, err = bucketWithRetry(js, s.cfg.ConfigBucket, "Config records"); err != nil {
		return fmt.Errorf("create config bucket: %w", err)
	}

	slog.Info("NATS setup completed")
	return nil
}

func (s *server) connectNATS(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("Descriptor Registry"),
		nats.Timeout(5*time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			slog.Error("NATS error", "error", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Error("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
}

// startEmbeddedNATS runs a JetStream-enabled server on a random localhost
// port so it never collides with a NATS instance already on the machine.
// Returns the client URL to connect to.
func (s *server) startEmbeddedNATS() (string, error) {
	storeDir, err := os.MkdirTemp("", "gcpwire-nats-*")
	if err != nil {
		return "", fmt.Errorf("create store directory: %w", err)
	}

	ns, err := natsd.NewServer(&natsd.Options{
		Host:      "127.0.0.1",
		Port:      natsd.RANDOM_PORT,
		JetStream: true,
		StoreDir:  storeDir,
	})
	if err != nil {
		os.RemoveAll(storeDir)
		return "", err
	}
	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		os.RemoveAll(storeDir)
		return "", fmt.Errorf("server not ready within timeout")
	}
	for deadline := time.Now().Add(5 * time.Second); !ns.JetStreamEnabled(); {
		if time.Now().After(deadline) {
			ns.Shutdown()
			os.RemoveAll(storeDir)
			return "", fmt.Errorf("JetStream not ready within timeout")
		}
		time.Sleep(100 * time.Millisecond)
	}

	s.natsServer = ns
	s.natsStoreDir = storeDir
	slog.Info("Embedded NATS server started", "url", ns.ClientURL(), "store", storeDir)
	return ns.ClientURL(), nil
}

func bucketWithRetry(js nats.JetStreamContext, name, desc string) (nats.KeyValue, error) {
	var kv nats.KeyValue
	var err error
	for i := 0; i < bucketRetries; i++ {
		slog.Debug("Setting up bucket", "name", name, "attempt", i+1)
		kv, err = js.KeyValue(name)
		if err == nats.ErrBucketNotFound {
			kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
				Bucket:      name,
				Description: desc,
				Storage:     nats.FileStorage,
				History:     5,
			})
		}
		if err == nil {
			return kv, nil
		}
		slog.Debug("Retrying bucket creation", "name", name, "error", err)
		time.Sleep(time.Second)
	}
	return nil, err
}

func (s *server) waitForShutdown(timeout time.Duration) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("Shutting down server...")
	if err := s.http.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	if s.natsServer != nil {
		slog.Info("Shutting down embedded NATS server")
		s.natsServer.Shutdown()
		s.natsServer.WaitForShutdown()
		os.RemoveAll(s.natsStoreDir)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1" || v == "yes"
	}
	return def
}
