package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/snarg/talkpace/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var version = "dev"

const usage = `talkpace - speech cadence and overlap analysis for transcripts

Usage:
  talkpace [serve] [flags]           run the HTTP API, worker pool and file watcher
  talkpace analyze -i words.json     analyse a saved engine output offline
  talkpace version                   print the version

Run "talkpace <command> -h" for command flags.
`

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "analyze":
		err = runAnalyze(args)
	case "version":
		fmt.Println(version)
	case "help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags are shared by every command that loads configuration.
type commonFlags struct {
	envFile  string
	logLevel string
	profile  string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.envFile, "env-file", "", "path to .env file (default .env)")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&c.profile, "profile", "", "YAML analysis profile")
}

// newLogger builds the process logger. LOG_FORMAT=console switches stdout
// to zerolog's human-readable writer; LOG_FILE adds a rotated JSON file.
func newLogger(cfg *config.Config, stdout io.Writer) (zerolog.Logger, func()) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = stdout
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: stdout, TimeFormat: "15:04:05"}
	}

	closeFn := func() {}
	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, rotator)
		closeFn = func() { rotator.Close() }
	}

	log := zerolog.New(out).With().Timestamp().Logger().Level(level)
	return log, closeFn
}
