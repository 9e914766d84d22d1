package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"

	"instant-glicko2/server/config"
	"instant-glicko2/server/glicko"
	"instant-glicko2/server/logger"
	"instant-glicko2/server/replay"
	"instant-glicko2/server/store"
)

//
// ===== bootstrap =====
//

type cliOptions struct {
	Migrate bool
	Replay  string
	Save    string
	Load    string
	Close   bool
}

func (o cliOptions) needsStore() bool { return o.Migrate || o.Save != "" || o.Load != "" }

func parseArgs(args []string) (cliOptions, error) {
	var o cliOptions
	value := func(i int, flag string) (string, error) {
		if i+1 >= len(args) || args[i+1] == "" || args[i+1][0] == '-' {
			return "", fmt.Errorf("%s needs a value", flag)
		}
		return args[i+1], nil
	}
	for i := 0; i < len(args); i++ {
		var err error
		switch a := args[i]; a {
		case "--migrate":
			o.Migrate = true
		case "--close":
			o.Close = true
		case "--replay":
			o.Replay, err = value(i, a)
			i++
		case "--save":
			o.Save, err = value(i, a)
			i++
		case "--load":
			o.Load, err = value(i, a)
			i++
		default:
			err = fmt.Errorf("unknown argument %q", a)
		}
		if err != nil {
			return cliOptions{}, err
		}
	}
	return o, nil
}

func main() {
	boot := logger.New(os.Getenv("LOG_LEVEL"), true)
	cfg, err := config.Load(boot)
	if err != nil {
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	useColor = cfg.Color()
	log := logger.New(cfg.LogLevel, useColor)

	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("usage: server [--migrate] [--load NAME] [--replay FILE] [--close] [--save NAME]")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchSignals(cancel, log)

	if err := run(ctx, cfg, opts, log); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn().Msg("interrupted")
			os.Exit(130)
		}
		log.Fatal().Err(err).Msg("failed")
	}
}

func watchSignals(cancel context.CancelFunc, log zerolog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
	log.Info().Msg("interrupt received, stopping")
	cancel()
}

func run(ctx context.Context, cfg *config.Config, opts cliOptions, log zerolog.Logger) error {
	var st store.Store
	if cfg.DatabaseURL != "" {
		s, err := store.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer s.Close()
		st = s
		if opts.Migrate || cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				return err
			}
		}
	} else if opts.needsStore() {
		return errors.New("DATABASE_URL is required for --migrate, --save and --load")
	}
	if opts.Migrate && opts.Replay == "" && opts.Load == "" && opts.Save == "" {
		return nil
	}

	settings, err := cfg.Settings()
	if err != nil {
		return err
	}

	var events []replay.Event
	if opts.Replay != "" {
		f, err := os.Open(opts.Replay)
		if err != nil {
			return err
		}
		events, err = replay.Decode(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", opts.Replay, err)
		}
		log.Info().Str("file", opts.Replay).Int("events", len(events)).Msg("replay decoded")
	}

	var engine *glicko.RatingEngine
	switch {
	case opts.Load != "":
		state, err := st.LoadEngine(ctx, opts.Load)
		if err != nil {
			return err
		}
		if engine, err = glicko.Restore(state, glicko.WithLogger(log)); err != nil {
			return fmt.Errorf("restore %q: %w", opts.Load, err)
		}
		log.Info().Str("name", opts.Load).Int("players", engine.Len()).Uint32("closed", engine.ClosedPeriods()).Msg("engine loaded")
	case len(events) > 0:
		engine = glicko.StartNewAt(settings, events[0].At, glicko.WithLogger(log))
	default:
		engine = glicko.StartNew(settings, glicko.WithLogger(log))
	}

	session := replay.NewSession(engine)
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := session.Apply(ev); err != nil {
			return err
		}
	}

	at := session.Last()
	if at.IsZero() {
		at = engine.Now()
	}
	if opts.Close {
		rest, closed, err := engine.MaybeCloseRatingPeriodsAt(at)
		if err != nil {
			return err
		}
		log.Info().Uint32("closed", closed).Float64("elapsed", rest).Msg("rating periods closed")
	}

	rep, err := session.Report(at)
	if err != nil {
		return err
	}
	printLeaderboard(os.Stdout, rep, engine.Settings(), engine.ClosedPeriods())

	if opts.Save != "" {
		id, err := st.SaveEngine(ctx, opts.Save, engine.Snapshot())
		if err != nil {
			return err
		}
		log.Info().Str("name", opts.Save).Str("id", id.String()).Msg("engine saved")
	}
	return nil
}
