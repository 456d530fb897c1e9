package main

import (
	"d20d/pkg/dispatcher"
	"d20d/pkg/engine"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// exitFatalConfig is returned when the not-found document is missing at startup.
const exitFatalConfig = 3

func printRootHelp() {
	fmt.Println(`d20d - tiny file server that also rolls dice

Usage:
  d20d <command> [options]

Available Commands:
  up        Start the d20d server
  down      Stop the d20d server started with the same config
  init      Write a default config file
  help      Show help for a command

Run 'd20d help <command>' for details on a specific command.`)
}

func printUpHelp() {
	fmt.Println(`Usage:
  d20d up [--config <path>]

Options:
  --config   Path to d20d config YAML file (default: ./d20d.config.yaml)`)
}

func printDownHelp() {
	fmt.Println(`Usage:
  d20d down [--config <path>]

Options:
  --config   Path to d20d config YAML file (default: ./d20d.config.yaml)`)
}

func printInitHelp() {
	fmt.Println(`Usage:
  d20d init [--config <path>]

Options:
  --config   Where to write the config YAML file (default: ./d20d.config.yaml)`)
}

// parseConfigFlag parses the --config flag of a subcommand and returns its
// absolute path. With mustExist the file has to be there already.
func parseConfigFlag(name string, mustExist bool) string {
	cmd := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := cmd.String("config", "d20d.config.yaml", "Path to configuration YAML file")

	if err := cmd.Parse(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	absPath, err := filepath.Abs(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to resolve config path: %v\n", err)
		os.Exit(1)
	}

	if mustExist {
		if _, err := os.Stat(absPath); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Config file not found: %s\n", absPath)
			os.Exit(1)
		}
	}
	return absPath
}

func main() {
	if len(os.Args) < 2 {
		printRootHelp()
		os.Exit(1)
	}

	switch os.Args[1] {

	case "up":
		absPath := parseConfigFlag("up", true)

		server, err := engine.InstantiateD20Engine(absPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to start d20d: %v\n", err)
			if errors.Is(err, dispatcher.ErrNotFoundPageMissing) {
				os.Exit(exitFatalConfig)
			}
			os.Exit(1)
		}
		if err := server.Run(); err != nil {
			os.Exit(1)
		}

	case "down":
		absPath := parseConfigFlag("down", true)

		if err := engine.KillD20d(absPath); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to kill the d20d server at %s: %v\n", absPath, err)
			os.Exit(1)
		}
		fmt.Printf("Shut down d20d server at %s \n", absPath)

	case "init":
		absPath := parseConfigFlag("init", false)

		if _, err := os.Stat(absPath); err == nil {
			fmt.Fprintf(os.Stderr, "Config file already exists: %s\n", absPath)
			os.Exit(1)
		}
		if err := engine.InitConfig(absPath); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to write config to %s: %v\n", absPath, err)
			os.Exit(1)
		}
		fmt.Printf("Wrote default config to %s\n", absPath)

	case "help":
		if len(os.Args) == 2 {
			printRootHelp()
		} else {
			switch os.Args[2] {
			case "up":
				printUpHelp()
			case "down":
				printDownHelp()
			case "init":
				printInitHelp()
			default:
				fmt.Printf("Unknown help topic: %s\n", os.Args[2])
				printRootHelp()
				os.Exit(1)
			}
		}

	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printRootHelp()
		os.Exit(1)
	}
}
