package producer

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"tradeflow/src/database"
	"tradeflow/src/feed"
	"tradeflow/src/gateway"
	"tradeflow/src/oracle"
	"tradeflow/src/producer"
	"tradeflow/src/queue"
	"tradeflow/src/repository"
	"tradeflow/src/risk"
)

type Producer struct {
}

func (t *Producer) Start() error {
	config := GetConfig()
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	broker := gateway.NewClient(gateway.GetConfig())
	scorer := oracle.NewRemoteScorer(oracle.GetConfig())
	signalQueue := queue.NewSignalQueue(queue.GetConfig()).
		WithRepository(repository.NewQueueRepository())

	producerCfg := producer.GetConfig()
	logrus.WithField("instruments", producerCfg.Instruments).Info("Starting signal producer")

	p := producer.NewProducer(broker, scorer, signalQueue, risk.DefaultSessionConfig(), producerCfg)
	if config.UseFeed {
		p.RunStream(ctx, feed.New(feed.GetConfig()))
		return nil
	}
	p.Run(ctx)
	return nil
}
