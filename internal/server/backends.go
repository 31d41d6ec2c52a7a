package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/otpgate/apiserver/config"
	"github.com/otpgate/apiserver/internal/activity"
	"github.com/otpgate/apiserver/internal/db"
	"github.com/otpgate/apiserver/internal/handlers"
	"github.com/otpgate/apiserver/internal/logging"
	"github.com/otpgate/apiserver/internal/mailer"
	"github.com/otpgate/apiserver/internal/mq"
	"github.com/otpgate/apiserver/internal/services"
	"github.com/otpgate/apiserver/internal/store"
	"github.com/otpgate/apiserver/types"
)

// UserStore is a user repository that can also list every user.
type UserStore interface {
	services.UserRepository
	List(ctx context.Context) ([]types.User, error)
}

// ActivityStore is an activity repository that can also list every record.
type ActivityStore interface {
	activity.Repository
	List(ctx context.Context) ([]types.ActivityRecord, error)
}

// Stores bundles the repositories of the configured backend.
type Stores struct {
	Users    UserStore
	Activity ActivityStore
	Pinger   handlers.Pinger
	close    func(context.Context) error
}

func (s *Stores) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// OpenStores connects to the backend named by cfg.Store.Backend.
func OpenStores(ctx context.Context, cfg config.Config) (*Stores, error) {
	switch cfg.Store.Backend {
	case config.StoreMongo:
		client, err := db.OpenMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		database := client.Database(cfg.Mongo.Database)
		users := store.NewMongoUserRepository(database, cfg.Store.UsersCollection)
		records := store.NewMongoActivityRepository(database, cfg.Store.ActivityCollection)
		if err := errors.Join(users.EnsureIndexes(ctx), records.EnsureIndexes(ctx)); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("ensure indexes: %w", err)
		}
		return &Stores{
			Users:    users,
			Activity: records,
			Pinger:   store.NewMongoPinger(client),
			close:    client.Disconnect,
		}, nil

	case config.StorePostgres:
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return &Stores{
			Users:    store.NewPostgresUserRepository(conn, cfg.Store.UsersCollection),
			Activity: store.NewPostgresActivityRepository(conn, cfg.Store.ActivityCollection),
			Pinger:   store.NewPostgresPinger(conn),
			close:    func(context.Context) error { return conn.Close() },
		}, nil

	case config.StoreMemory:
		mem := store.NewMemoryStore()
		return &Stores{Users: mem.Users(), Activity: mem.Activity(), Pinger: mem}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// OpenQueue connects to the broker used by the queued email transports.
func OpenQueue(ctx context.Context, cfg config.Config) (mq.Backend, error) {
	switch cfg.Email.Transport {
	case config.TransportRabbitMQ:
		return mq.NewRabbitMQClient(cfg.RabbitMQ)
	case config.TransportPubSub:
		return mq.NewPubSubClient(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("email transport %q does not use a queue", cfg.Email.Transport)
	}
}

// OpenMailer builds the mailer for cfg.Email.Transport. The returned close
// function releases any broker connection.
func OpenMailer(ctx context.Context, cfg config.Config, log logging.Logger) (mailer.Mailer, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Email.Transport {
	case config.TransportSMTP:
		m, err := mailer.NewSMTPMailer(cfg.Email)
		if err != nil {
			return nil, nil, err
		}
		return m, noop, nil
	case config.TransportRabbitMQ, config.TransportPubSub:
		backend, err := OpenQueue(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return mailer.NewQueueMailer(backend, cfg.Email.Queue), backend.Close, nil
	case config.TransportLog:
		return mailer.NewLogMailer(log), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown email transport %q", cfg.Email.Transport)
	}
}
