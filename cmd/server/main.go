package main

import (
	"github.com/threadline-ai/threadline/backend/internal/server"
	"github.com/threadline-ai/threadline/backend/internal/util"
	"github.com/threadline-ai/threadline/backend/pkg/logger"
	"github.com/threadline-ai/threadline/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
