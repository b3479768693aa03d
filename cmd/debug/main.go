package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/thatsimonsguy/sprinkler-controller/internal/app"
	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
	"github.com/thatsimonsguy/sprinkler-controller/internal/logging"
	"github.com/thatsimonsguy/sprinkler-controller/system/startup"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dataDir, dbPath, configFile, command, cron, at, user, workDir, binary string
	var zone, index int
	var minutes float64
	var override bool
	flag.StringVar(&dataDir, "data-dir", "data", "Directory for settings and schedule documents")
	flag.StringVar(&dbPath, "db", "", "SQLite database path (overrides -data-dir)")
	flag.StringVar(&configFile, "config-file", "sprinkler.yaml", "Path to YAML config file")
	flag.StringVar(&command, "cmd", "", "Command to run (see -help)")
	flag.IntVar(&zone, "zone", 0, "Zone for zone commands")
	flag.IntVar(&index, "index", -1, "Schedule index for delete")
	flag.Float64Var(&minutes, "minutes", 0, "Watering minutes")
	flag.StringVar(&cron, "cron", "", "Trigger in \"M H * * D\" form")
	flag.BoolVar(&override, "override", false, "Replace conflicting schedules on add")
	flag.StringVar(&at, "at", "", "Time for run-due (RFC3339, default now)")
	flag.StringVar(&user, "user", "pi", "User for install-service")
	flag.StringVar(&workDir, "workdir", ".", "Working directory for install-service")
	flag.StringVar(&binary, "binary", "/usr/local/bin/sprinkler", "Daemon binary for install-service")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of sprinkler-debug:")
		fmt.Println("  -data-dir / -db / -config-file\tSame meaning as the daemon")
		fmt.Println("  -cmd string\tlist, add, delete, clear-zone, run, all-off, weather, upcoming, run-due,")
		fmt.Println("             \tsettings, discover, install-service")
		fmt.Println("  -zone int\tZone for add, clear-zone, run")
		fmt.Println("  -minutes float\tMinutes for add, run")
		fmt.Println("  -cron string\tTrigger for add")
		fmt.Println("  -override\tReplace conflicting schedules on add")
		fmt.Println("  -index int\tSchedule index for delete")
		fmt.Println("  -at string\tRFC3339 time for run-due")
		fmt.Println("  -help\tShow this help message")
		os.Exit(0)
	}

	if command == "install-service" {
		exitOn(command, startup.InstallService(startup.Service{
			User:    user,
			WorkDir: workDir,
			Binary:  binary,
			Args:    []string{"-data-dir", dataDir, "-config-file", configFile},
		}))
		fmt.Printf("Command %s completed successfully\n", command)
		return
	}

	args := []string{"-data-dir", dataDir, "-config-file", configFile}
	if dbPath != "" {
		args = append(args, "-db", dbPath)
	}
	cfg, err := config.Parse("sprinkler-debug", args)
	exitOn(command, err)
	if _, err := logging.Init(zerolog.WarnLevel, ""); err != nil {
		exitOn(command, err)
	}

	ctx := context.Background()
	a, err := app.Build(ctx, cfg)
	exitOn(command, err)
	defer a.Close()
	svc := a.Service

	switch command {
	case "list":
		printJSON(svc.ListSchedules())
	case "add":
		result, err := svc.AddSchedule(zone, minutes, cron, override)
		printJSON(result)
		exitOn(command, err)
	case "delete":
		ok, err := svc.DeleteSchedule(index)
		exitOn(command, err)
		if !ok {
			fmt.Printf("No schedule at index %d\n", index)
		}
	case "clear-zone":
		removed, err := svc.ClearZone(zone)
		exitOn(command, err)
		printJSON(removed)
	case "run":
		exitOn(command, svc.RunZoneManually(zone, minutes))
		svc.Wait()
	case "all-off":
		exitOn(command, svc.AllOff(ctx))
	case "weather":
		printJSON(svc.CheckWeatherNow(ctx))
	case "upcoming":
		printJSON(svc.UpcomingRuns())
	case "run-due":
		now := time.Now().In(cfg.Location())
		if at != "" {
			now, err = time.Parse(time.RFC3339, at)
			exitOn(command, err)
		}
		fmt.Printf("%d job(s) due at %s\n", a.Dispatcher.RunDue(now), now.Format(time.RFC3339))
		a.Dispatcher.Wait()
	case "settings":
		printJSON(svc.GetSettings())
	case "discover":
		hits, err := svc.Discover(ctx)
		exitOn(command, err)
		printJSON(hits)
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	fmt.Printf("Command %s completed successfully\n", command)
}

func exitOn(command string, err error) {
	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
