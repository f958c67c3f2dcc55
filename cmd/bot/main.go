package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli"
)

var (
	version = "dev"

	cfgPath string
	envFile string

	globalFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "config, c",
			Usage:       "path to the JSON or YAML config file",
			Value:       "./config.yaml",
			EnvVar:      "REMINDBOT_CONFIG",
			Destination: &cfgPath,
		},
		cli.StringFlag{
			Name:        "env-file",
			Usage:       "dotenv file loaded before the config (missing file is fine)",
			Value:       ".env",
			Destination: &envFile,
		},
	}
)

func main() {
	app := cli.App{
		Name:     "remindbot",
		HelpName: "remindbot",
		Usage:    "Telegram bot that delivers one-shot reminders.",
		Version:  version,
		Flags:    globalFlags,
		Before:   loadEnv,
		Commands: []cli.Command{
			{
				Name:   "run",
				Usage:  "run the bot until SIGINT/SIGTERM",
				Action: run,
			},
			{
				Name:    "reminders",
				Aliases: []string{"ls"},
				Usage:   "list pending reminders straight from the store",
				Action:  listReminders,
				Flags:   remindersFlags,
			},
			{
				Name:   "check-config",
				Usage:  "parse and validate the config, then exit",
				Action: checkConfig,
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// loadEnv lets BOT_TOKEN / REMINDBOT_TOKEN live in a dotenv file. Variables
// already set in the environment win.
func loadEnv(*cli.Context) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}
