package main

import (
	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

var version = "dev"

type CLI struct {
	Version     kong.VersionFlag `short:"v" help:"Show version"`
	Serve       ServeCmd         `cmd:"" default:"withargs" help:"Run the game server"`
	EngineCheck EngineCheckCmd   `cmd:"enginecheck" help:"Evaluate a position and ask a bot for its move"`
}

func main() {
	// Flags bound to env vars read the environment during parsing.
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("chess-server"),
		kong.Description("Real-time chess: matchmaking, timed rated rooms and engine bots"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Vars{"version": version},
	)
	ctx.FatalIfErrorf(ctx.Run())
}
