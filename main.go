package main

import (
	"os"
	"quiver-sql-go/config"
	"quiver-sql-go/server"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
)

type options struct {
	Config  string `short:"c" long:"config" description:"path to a yaml config file"`
	EnvFile string `long:"env-file" description:"dotenv file holding object store credentials"`
	Debug   bool   `long:"debug" description:"verbose logging"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	if opts.Config != "" {
		if err := config.Decode(opts.Config); err != nil {
			panic(err)
		}
	}
	if opts.EnvFile != "" {
		config.LoadSecrets(opts.EnvFile)
	} else {
		config.LoadSecrets()
	}

	logger, err := newLogger(opts.Debug)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := server.New(logger).Start(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
