package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/inbound-gateway/internal/addresses"
	"github.com/ignite/inbound-gateway/internal/api"
	"github.com/ignite/inbound-gateway/internal/blocking"
	"github.com/ignite/inbound-gateway/internal/config"
	"github.com/ignite/inbound-gateway/internal/dispatch"
	"github.com/ignite/inbound-gateway/internal/dnscheck"
	"github.com/ignite/inbound-gateway/internal/domains"
	"github.com/ignite/inbound-gateway/internal/endpoints"
	"github.com/ignite/inbound-gateway/internal/mailer"
	"github.com/ignite/inbound-gateway/internal/rules"
	"github.com/ignite/inbound-gateway/internal/sesraw"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	configPath := "config/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	// Database. Statement timeouts keep a stuck query from pinning a
	// connection while receipt-rule requests hold the per-domain lock.
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	dbURL := cfg.Database.URL
	sep := "?"
	if strings.Contains(dbURL, "?") {
		sep = "&"
	}
	if !strings.Contains(dbURL, "connect_timeout") {
		dbURL += sep + "connect_timeout=5"
		sep = "&"
	}
	dbURL += sep + "options=-c%20statement_timeout%3D15000"
	log.Printf("DB URL host portion: ...@%s/...", extractHost(dbURL))

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Database ping failed: %v", err)
	}
	pingCancel()
	log.Println("Database connected")

	// Redis is optional; rule mutations fall back to PG advisory locks.
	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v — falling back to PG advisory locks", cfg.Redis.Addr, err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Printf("Redis connected: %s (distributed locking enabled)", cfg.Redis.Addr)
		}
		pingCancel()
	} else {
		log.Println("Redis not configured — using PG advisory locks for distributed locking")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// AWS clients. A nil SES client means credentials are absent; the API
	// keeps working and reports a configuration warning instead.
	sesClient, err := sesraw.NewClient(ctx, cfg.AWS)
	if err != nil {
		log.Fatalf("Failed to build SES client: %v", err)
	}
	var sesAPI sesraw.API
	if sesClient != nil {
		sesAPI = sesClient
	}

	var fetcher *dispatch.RawFetcher
	if cfg.AWS.Configured() && cfg.Receive.S3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.AWS.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKey, cfg.AWS.SecretKey, "")),
		)
		if err != nil {
			log.Fatalf("Failed to load AWS config for S3: %v", err)
		}
		fetcher = dispatch.NewRawFetcher(s3.NewFromConfig(awsCfg), cfg.Receive.S3Bucket)
		log.Printf("Raw mail fetcher initialized: bucket=%s", cfg.Receive.S3Bucket)
	}

	// Stores and services.
	domainStore := domains.NewStore(db)
	addrStore := addresses.NewStore(db)
	endpointStore := endpoints.NewStore(db)
	sentStore := mailer.NewSentStore(db)
	recordStore := dispatch.NewRecordStore(db)

	ruleManager := rules.NewManager(sesAPI, db, redisClient, cfg.Receive.RuleSetName)

	mail := mailer.NewMailer(sesAPI, sentStore, cfg.Receive.MailFrom, os.Getenv("NOTIFY_EMAIL"))

	verifier := dnscheck.NewVerifier(cfg.Verify.Resolvers())
	orch := domains.NewOrchestrator(domainStore, sesAPI, verifier, ruleManager, mail, cfg.AWS.Region)

	gate := blocking.NewGate(db, domainStore, addrStore)
	dispatcher := dispatch.NewDispatcher(gate, addrStore, domainStore, endpointStore,
		mail, recordStore, fetcher, nil, cfg.Delivery)

	// Background verification polling keeps pending domains moving without
	// the user hammering the verify endpoint.
	poller := domains.NewPoller(orch, domainStore, cfg.Verify.PollInterval())
	go poller.Run(ctx)
	log.Printf("Verification poller started (every %s)", cfg.Verify.PollInterval())

	handlers := api.NewHandlers(cfg, domainStore, orch, addrStore, endpointStore,
		gate, ruleManager, dispatcher, recordStore)
	server := api.NewServer(cfg.Server, handlers)

	addr := fmt.Sprintf("%s:%d", host, port)
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Inbound gateway listening on %s", addr)
		errCh <- server.ListenAndServe(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	case s := <-sig:
		log.Printf("Received %v, shutting down", s)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}
	log.Println("Shutdown complete")
}
