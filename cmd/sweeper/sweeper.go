package sweeper

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tradeflow/src/database"
	"tradeflow/src/queue"
	"tradeflow/src/repository"
)

type Sweeper struct {
}

// Start runs the zombie sweep on a ticker. The sweep is idempotent and safe
// to run alongside any number of engines; it is the sole recovery path for
// leases lost to a consumer crash.
func (t *Sweeper) Start() error {
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

	signalQueue := queue.NewSignalQueue(queue.GetConfig()).
		WithRepository(repository.NewQueueRepository())

	logrus.WithField("staleAfter", config.StaleAfter).Info("Starting zombie sweeper")

	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Sweeper stopped")
			return nil
		case <-ticker.C:
			swept, err := signalQueue.SweepZombies(ctx, config.StaleAfter)
			if err != nil {
				logrus.WithError(err).Error("Zombie sweep failed")
				continue
			}
			if swept > 0 {
				logrus.WithField("count", swept).Warn("Requeued zombie signals")
			}
		}
	}
}
