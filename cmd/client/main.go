package main

import (
	"context"
	"log"
	"os"

	"github.com/avoronov/userdir/internal/buildinfo"
	"github.com/avoronov/userdir/internal/client/cli"
	"github.com/avoronov/userdir/internal/client/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := cli.NewApp(cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
