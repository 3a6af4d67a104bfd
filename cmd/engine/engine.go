package engine

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"tradeflow/src/database"
	"tradeflow/src/engine"
	"tradeflow/src/gateway"
	"tradeflow/src/lifecycle"
	"tradeflow/src/notify"
	"tradeflow/src/queue"
	"tradeflow/src/repository"
	"tradeflow/src/risk"
	"tradeflow/src/rotation"
	"tradeflow/src/server"
)

type Engine struct {
}

func (t *Engine) Start() error {
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

	gatewayCfg := gateway.GetConfig()
	broker := gateway.NewClient(gatewayCfg)
	accounts := gateway.NewAccountCache(broker, gatewayCfg.AccountCacheTTL)
	notifier := notify.FromConfig()

	signalQueue := queue.NewSignalQueue(queue.GetConfig()).
		WithRepository(repository.NewQueueRepository())

	engineCfg := engine.GetConfig()
	session := risk.DefaultSessionConfig()

	exec := engine.New(engine.Deps{
		Queue:     signalQueue,
		Broker:    broker,
		Accounts:  accounts,
		Admission: engine.NewController(broker, accounts, risk.DefaultBudgetConfig(), engineCfg),
		Advisor:   rotation.NewAdvisor(rotation.DefaultConfig()),
		Plans:     repository.NewStopPlanRepository(),
		Orders:    repository.NewOrderRepository(),
		Notifier:  notifier,
		Session:   session,
	}, engineCfg)

	if config.RunLifecycle {
		manager := lifecycle.NewManager(
			repository.NewStopPlanRepository(),
			repository.NewObservationRepository(),
			broker,
			signalQueue,
			lifecycle.DefaultPolicy(),
			notifier,
			lifecycle.GetConfig(),
		)
		go manager.Run(ctx)
		logrus.Info("Lifecycle manager running in engine process")
	}

	if config.RunOpsServer {
		go server.StartServer(signalQueue, server.GetConfig())
	}

	logrus.Info("Execution engine starting")
	exec.Run(ctx)
	return nil
}
