package main

import (
	"flag"

	"go.uber.org/fx"

	"github.com/matheus3301/wpphub/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default <data-dir>/config.toml)")
	dataDirFlag := flag.String("data-dir", "", "data directory (overrides config)")
	socketFlag := flag.String("socket", "", "control socket path (overrides config)")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{
			ConfigPath: *configFlag,
			DataDir:    *dataDirFlag,
			SocketPath: *socketFlag,
		}),
	)

	app.Run()
}
