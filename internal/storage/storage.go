// Package storage opens the tracking document store selected by config.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/ignite/pixel-tracker/internal/config"
	"github.com/ignite/pixel-tracker/internal/pkg/logger"
	"github.com/ignite/pixel-tracker/internal/repository/dynamo"
	"github.com/ignite/pixel-tracker/internal/repository/memory"
	"github.com/ignite/pixel-tracker/internal/repository/mongostore"
	"github.com/ignite/pixel-tracker/internal/repository/postgres"
	"github.com/ignite/pixel-tracker/internal/repository/redisstore"
	"github.com/ignite/pixel-tracker/internal/service/tracking"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Storage types accepted in storage.type.
const (
	TypeMemory   = "memory"
	TypePostgres = "postgres"
	TypeDynamoDB = "dynamodb"
	TypeRedis    = "redis"
	TypeMongo    = "mongo"
)

const pingTimeout = 3 * time.Second

// Backend is an opened tracking store and the connections behind it.
type Backend struct {
	Type    string
	Repo    tracking.Repository
	closers []func() error
}

// Close releases the backend's connections in reverse order of opening.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Open connects to the configured store and verifies it is reachable.
func Open(ctx context.Context, cfg config.StorageConfig) (*Backend, error) {
	switch cfg.Type {
	case "", TypeMemory:
		logger.Warn("using in-memory tracking store, opens are lost on restart")
		return &Backend{Type: TypeMemory, Repo: memory.NewRepo()}, nil
	case TypePostgres:
		return openPostgres(ctx, cfg)
	case TypeDynamoDB:
		return openDynamoDB(ctx, cfg)
	case TypeRedis:
		return openRedis(ctx, cfg)
	case TypeMongo:
		return openMongo(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func openPostgres(ctx context.Context, cfg config.StorageConfig) (*Backend, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("storage.database_url is required for postgres")
	}

	db, err := OpenPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	logger.Info("postgres tracking store connected", "host", extractHost(cfg.DatabaseURL))
	return &Backend{
		Type:    TypePostgres,
		Repo:    postgres.NewTrackingRepo(db),
		closers: []func() error{db.Close},
	}, nil
}

// OpenPostgresDB opens a pooled connection and pings it.
func OpenPostgresDB(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", withConnectTimeout(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	// Set pool limits early to prevent connection exhaustion
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(30 * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return db, nil
}

func openDynamoDB(ctx context.Context, cfg config.StorageConfig) (*Backend, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg.AWSRegion, cfg.GetAWSProfile(), cfg.DynamoDBEndpoint)
	if err != nil {
		return nil, err
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = &cfg.DynamoDBEndpoint
		}
	})

	logger.Info("dynamodb tracking store configured", "table", cfg.DynamoDBTable, "region", cfg.AWSRegion)
	return &Backend{
		Type: TypeDynamoDB,
		Repo: dynamo.NewTrackingRepo(client, cfg.DynamoDBTable),
	}, nil
}

func openRedis(ctx context.Context, cfg config.StorageConfig) (*Backend, error) {
	client := NewRedisClient(cfg)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis %s: %w", cfg.RedisAddr, err)
	}

	logger.Info("redis tracking store connected", "addr", cfg.RedisAddr)
	return &Backend{
		Type:    TypeRedis,
		Repo:    redisstore.NewTrackingRepo(client),
		closers: []func() error{client.Close},
	}, nil
}

// NewRedisClient accepts either a redis:// URL or a bare host:port.
func NewRedisClient(cfg config.StorageConfig) *redis.Client {
	if opts, err := redis.ParseURL(cfg.RedisAddr); err == nil {
		if cfg.RedisPassword != "" {
			opts.Password = cfg.RedisPassword
		}
		return redis.NewClient(opts)
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func openMongo(ctx context.Context, cfg config.StorageConfig) (*Backend, error) {
	if cfg.MongoURI == "" {
		return nil, errors.New("storage.mongo_uri is required for mongo")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	disconnect := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return client.Disconnect(ctx)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		disconnect()
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	coll := client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection)
	if err := mongostore.EnsureIndexes(ctx, coll); err != nil {
		disconnect()
		return nil, err
	}

	logger.Info("mongo tracking store connected", "database", cfg.MongoDatabase, "collection", cfg.MongoCollection)
	return &Backend{
		Type:    TypeMongo,
		Repo:    mongostore.NewTrackingRepo(coll),
		closers: []func() error{disconnect},
	}, nil
}

func withConnectTimeout(dbURL string) string {
	if strings.Contains(dbURL, "connect_timeout") {
		return dbURL
	}
	if strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://") {
		sep := "?"
		if strings.Contains(dbURL, "?") {
			sep = "&"
		}
		return dbURL + sep + "connect_timeout=5"
	}
	// key=value DSN
	return dbURL + " connect_timeout=5"
}

// extractHost returns the host portion of a postgres URL without credentials.
func extractHost(dbURL string) string {
	if i := strings.LastIndex(dbURL, "@"); i >= 0 {
		rest := dbURL[i+1:]
		if j := strings.IndexAny(rest, "/?"); j >= 0 {
			return rest[:j]
		}
		return rest
	}
	return "(hidden)"
}
