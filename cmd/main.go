package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	enginecmd "tradeflow/cmd/engine"
	producercmd "tradeflow/cmd/producer"
	sweepercmd "tradeflow/cmd/sweeper"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Tradeflow CMD"
	app.Usage = "The tradeflow command line interface"

	app.Commands = []cli.Command{
		producerCMD,
		engineCMD,
		sweeperCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	producerCMD = cli.Command{
		Name:        "producer",
		Usage:       "run the signal producer",
		Action:      producerAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Poll watched instruments, score them and publish signals`,
	}
	engineCMD = cli.Command{
		Name:        "engine",
		Usage:       "run the execution engine",
		Action:      engineAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Drain the signal queue and execute admitted orders`,
	}
	sweeperCMD = cli.Command{
		Name:        "sweeper",
		Usage:       "run the zombie sweeper",
		Action:      sweeperAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Requeue signals stuck in processing after a consumer crash`,
	}
)

func producerAction(_ *cli.Context) error {
	logrus.Info("Starting producer CMD")

	p := &producercmd.Producer{}
	if err := p.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func engineAction(_ *cli.Context) error {
	logrus.Info("Starting engine CMD")

	e := &enginecmd.Engine{}
	if err := e.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func sweeperAction(_ *cli.Context) error {
	logrus.Info("Starting sweeper CMD")

	s := &sweepercmd.Sweeper{}
	if err := s.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}
