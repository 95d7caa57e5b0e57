package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/warp/enrollment-engine/api"
	"github.com/warp/enrollment-engine/config"
	"github.com/warp/enrollment-engine/enrollment"
	memstore "github.com/warp/enrollment-engine/enrollment/store"
	"github.com/warp/enrollment-engine/events"
	"github.com/warp/enrollment-engine/gateway"
	"github.com/warp/enrollment-engine/store/mongo"
	"github.com/warp/enrollment-engine/store/sqlite"
)

// openStore returns the configured store and its close function.
func openStore(ctx context.Context, cfg config.Config) (api.Seeder, func() error, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.StoreMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := mongo.New(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.StoreMemory:
		log.Println("[Store] Using in-memory store; data is lost on exit")
		return memstore.NewMemory(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// openNotifier connects the AMQP publisher when AMQP_URL is set. Events
// are best-effort, so a broker that cannot be reached only disables them.
func openNotifier(cfg config.Config) (enrollment.Notifier, func()) {
	if cfg.AMQPURL == "" {
		return nil, func() {}
	}
	pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		log.Printf("[Events] Disabled: %v", err)
		return nil, func() {}
	}
	log.Printf("[Events] Publishing to exchange %q", cfg.AMQPExchange)
	return pub, func() { _ = pub.Close() }
}

func openGateway(cfg config.Config) enrollment.PaymentGateway {
	if cfg.MidtransServerKey == "" {
		log.Println("[Gateway] MIDTRANS_SERVER_KEY is not set; payment intents will be rejected by the gateway")
	}
	return gateway.NewMidtrans(cfg.MidtransServerKey, cfg.MidtransProduction)
}
