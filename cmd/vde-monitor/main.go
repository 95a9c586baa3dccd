package main

import (
	"fmt"
	"os"

	"github.com/yuki-yano/vde-monitor/internal/command"
)

func main() {
	app := command.BuildApp(command.Deps{
		RunServe:     runServe,
		RunMigrateUp: runMigrateUp,
	})
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
