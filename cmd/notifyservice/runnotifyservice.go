/*
File: cmd/notifyservice/runnotifyservice.go
Description: Main entrypoint for the notification delivery service.
Handles config loading, dependency injection, and starting the application.
*/
package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/sanushilshad/vitis-sub000/internal/app"
	"github.com/sanushilshad/vitis-sub000/internal/platform/bus"
	"github.com/sanushilshad/vitis-sub000/internal/platform/cache"
	"github.com/sanushilshad/vitis-sub000/internal/platform/outbox"
	"github.com/sanushilshad/vitis-sub000/internal/realtime"
	"github.com/sanushilshad/vitis-sub000/notifyservice"
	"github.com/sanushilshad/vitis-sub000/notifyservice/config"
	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

//go:embed config.yaml
var configFile []byte

func main() {
	// --- 1. Setup structured logging (slog) ---
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "notify-service")

	slog.SetDefault(logger)

	// The realtime components log through zerolog.
	zlogger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "notify-service").Logger()

	// --- 2. Load Configuration (Stage 0: Unmarshal) ---
	var yamlCfg config.YamlConfig
	err := yaml.Unmarshal(configFile, &yamlCfg)
	if err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}

	// --- 3. Build Base Config (Stage 1: YAML to Base Struct) ---
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg)
	if err != nil {
		logger.Error("Failed to build base configuration from YAML", "err", err)
		os.Exit(1)
	}

	// --- 4. Apply Overrides & Validate (Stage 2: Env Vars) ---
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Failed to finalize configuration with environment overrides", "err", err)
		os.Exit(1)
	}

	// Convert topic/sub IDs to full GCP resource names
	cfg.PresenceTopicID = convertPubsub(cfg.ProjectID, cfg.PresenceTopicID, Pub)
	cfg.PresenceSubscriptionID = convertPubsub(cfg.ProjectID, cfg.PresenceSubscriptionID, Sub)

	// --- 5. Create dependencies ---
	ctx := context.Background()

	deps, source, err := newProdDependencies(ctx, cfg, zlogger, logger)
	if err != nil {
		logger.Error("Failed to initialize dependencies", "err", err)
		os.Exit(1)
	}

	// --- 6. Create the two main services ---
	registry, ok := deps.Registry.(*realtime.Registry)
	if !ok {
		logger.Error("Registry dependency is not a realtime registry")
		os.Exit(1)
	}

	connManager, err := realtime.NewConnectionManager(
		":"+cfg.WebSocketPort, // Prepend ':' for listener
		registry,
		deps.Markers,
		deps.Presence,
		realtime.HeaderIdentity,
		realtime.SessionConfig{
			PingInterval: cfg.PingInterval,
			PongTimeout:  cfg.PongTimeout,
			WriteTimeout: cfg.WriteTimeout,
			SendBuffer:   cfg.SendBufferSize,
		},
		zlogger.With().Str("component", "ConnManager").Logger(),
	)
	if err != nil {
		logger.Error("Failed to create Connection Manager", "err", err)
		os.Exit(1)
	}

	apiService, err := notifyservice.New(
		cfg,
		deps,
		source,
		connManager.InstanceID(),
		zlogger.With().Str("component", "ApiService").Logger(),
		logger,
	)
	if err != nil {
		logger.Error("Failed to create API service", "err", err)
		os.Exit(1)
	}

	// --- 7. Run the application ---
	app.Run(ctx, logger, apiService, connManager)
}

// newProdDependencies creates real, production-ready dependencies.
// Emulators are handled via environment variables, not a config flag.
func newProdDependencies(
	ctx context.Context,
	cfg *config.AppConfig,
	zlogger zerolog.Logger,
	logger *slog.Logger,
) (*notify.ServiceDependencies, *bus.MarkerSubscriber, error) {
	// Connect to GCP
	logger.Debug("Connecting to Firestore", "project_id", cfg.ProjectID)
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to firestore: %w", err)
	}
	logger.Debug("Connecting to PubSub", "project_id", cfg.ProjectID)
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to pubsub: %w", err)
	}

	err = ensureMarkerResources(ctx, cfg, psClient, logger)
	if err != nil {
		return nil, nil, err
	}

	notifOutbox, err := outbox.NewFirestoreOutbox(fsClient, cfg.OutboxCollection, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create notification outbox: %w", err)
	}

	// Markers for the same connection key must arrive in publish order, so
	// the publisher uses ordering keys.
	publisher := psClient.Publisher(cfg.PresenceTopicID)
	publisher.EnableMessageOrdering = true
	markerProducer := bus.NewMarkerProducer(publisher)

	markerSource, err := bus.NewMarkerSubscriber(psClient.Subscriber(cfg.PresenceSubscriptionID), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create marker subscriber: %w", err)
	}

	presenceCache, err := newPresenceCache(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	logger.Debug("All production dependencies initialized")

	return &notify.ServiceDependencies{
		Registry: realtime.NewRegistry(zlogger),
		Outbox:   notifOutbox,
		Markers:  markerProducer,
		Presence: presenceCache,
	}, markerSource, nil
}

// newPresenceCache connects to Redis and wraps it in the presence cache.
func newPresenceCache(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (notify.PresenceCache, error) {
	if cfg.RedisAddr == "" {
		logger.Error("no presence cache address is configured (check REDIS_ADDR env var)")
		return nil, fmt.Errorf("no presence cache address is configured (check REDIS_ADDR env var)")
	}
	logger.Debug("Connecting to Redis presence cache", "addr", cfg.RedisAddr)
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	// Test the connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to connect to redis presence cache", "addr", cfg.RedisAddr, "err", err)
		return nil, fmt.Errorf("failed to connect to redis presence cache at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("Connected to Redis presence cache", "addr", cfg.RedisAddr)
	return cache.NewRedisPresenceCache(rdb, cfg.PresenceTTL, logger)
}

// ensureMarkerResources creates the presence marker topic and subscription if
// they don't already exist.
func ensureMarkerResources(ctx context.Context, cfg *config.AppConfig, psClient *pubsub.Client, logger *slog.Logger) error {
	markerTopic := &pubsubpb.Topic{
		Name: cfg.PresenceTopicID,
	}
	logger.Debug("Ensuring topic exists", "topic", cfg.PresenceTopicID)
	_, err := psClient.TopicAdminClient.CreateTopic(ctx, markerTopic)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Topic already exists, skipping creation", "topic", cfg.PresenceTopicID)
		} else {
			logger.Error("Failed to create topic", "topic", cfg.PresenceTopicID, "err", err)
			return fmt.Errorf("could not create topic: %s", cfg.PresenceTopicID)
		}
	}

	subConfig := &pubsubpb.Subscription{
		Name:                  cfg.PresenceSubscriptionID,
		Topic:                 cfg.PresenceTopicID,
		AckDeadlineSeconds:    10,
		EnableMessageOrdering: true,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err = psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return fmt.Errorf("could not create sub: %s", cfg.PresenceSubscriptionID)
		}
	}
	return nil
}

// PS is a type for Pub/Sub resource types (Topic or Subscription).
type PS string

const (
	// Sub identifies a subscription resource.
	Sub PS = "subscriptions"
	// Pub identifies a topic resource.
	Pub PS = "topics"
)

// convertPubsub formats a short ID into a full GCP resource name.
func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
