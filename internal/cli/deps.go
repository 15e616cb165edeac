package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"

	"github.com/seantiz/urumi/internal/awsclient"
	"github.com/seantiz/urumi/internal/catalog"
	"github.com/seantiz/urumi/internal/config"
	"github.com/seantiz/urumi/internal/queue"
	"github.com/seantiz/urumi/internal/store"
)

// deps holds the process-wide connections shared by the API and the worker.
// They are opened once before either starts and closed after both stop.
type deps struct {
	store   store.Store
	queue   queue.Queue
	catalog *catalog.Catalog
}

func openDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (*deps, error) {
	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	var awsCfg *sdkaws.Config
	loadAWS := func() (sdkaws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsclient.LoadConfig(ctx, cfg.AWSRegion)
		if err != nil {
			return sdkaws.Config{}, err
		}
		awsCfg = &c
		return c, nil
	}

	var s store.Store
	switch cfg.RegistryBackend {
	case config.BackendDynamoDB:
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		s = store.NewDynamoStore(awsclient.NewDynamoDB(c), cfg.DynamoDBTable)
		logger.Info("registry: dynamodb", "table", cfg.DynamoDBTable, "region", cfg.AWSRegion)
	default:
		s, err = store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open registry: %w", err)
		}
		logger.Info("registry: sqlite", "path", cfg.DBPath)
	}

	var q queue.Queue
	switch cfg.QueueBackend {
	case config.BackendSQS:
		c, err := loadAWS()
		if err != nil {
			s.Close()
			return nil, err
		}
		q = queue.NewSQSQueue(awsclient.NewSQS(c), cfg.SQSQueueURL, cfg.VisibilityTimeout)
		logger.Info("queue: sqs", "url", cfg.SQSQueueURL)
	default:
		q, err = queue.NewSQLiteQueue(cfg.QueuePath, queue.WithVisibilityTimeout(cfg.VisibilityTimeout))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open queue: %w", err)
		}
		logger.Info("queue: sqlite", "path", cfg.QueuePath)
	}

	return &deps{store: s, queue: q, catalog: cat}, nil
}

func (d *deps) Close() error {
	return errors.Join(d.queue.Close(), d.store.Close())
}

func loadCatalog(cfg config.Config) (*catalog.Catalog, error) {
	if cfg.EnginesFile == "" {
		return catalog.Default(cfg.ChartsBasePath), nil
	}
	cat, err := catalog.LoadFile(cfg.EnginesFile, cfg.ChartsBasePath)
	if err != nil {
		return nil, fmt.Errorf("load engines: %w", err)
	}
	return cat, nil
}
