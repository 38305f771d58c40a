// Package agent assembles and runs the headless sync agent: one store
// client, one sync channel per state category, and the scheduler that
// drives them until the process is told to stop.
package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/svio-coop/go-svio/chat"
	"github.com/svio-coop/go-svio/cmd"
	"github.com/svio-coop/go-svio/config"
	"github.com/svio-coop/go-svio/events"
	"github.com/svio-coop/go-svio/flags"
	"github.com/svio-coop/go-svio/metrics"
	"github.com/svio-coop/go-svio/orbits"
	"github.com/svio-coop/go-svio/presence"
	"github.com/svio-coop/go-svio/scenario"
	"github.com/svio-coop/go-svio/scheduler"
	"github.com/svio-coop/go-svio/session"
	"github.com/svio-coop/go-svio/transport"
	"github.com/svio-coop/go-svio/vessels"
	"github.com/svio-coop/go-svio/vote"
)

const (
	lockFileName = "agent.lock"
	// flightScene is the scene label the headless agent reports through
	// presence. Anything but the main menu counts as present.
	flightScene = "Flight"

	shutdownGrace = 5 * time.Second
)

var (
	defaults   = config.DefaultConfig()
	configPath *string
)

// Cmd is the agent root command.
var Cmd = &cobra.Command{
	Use:   "agent",
	Short: "run the co-op session sync agent",
	RunE: func(c *cobra.Command, args []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}

		// os.Interrupt for all systems, syscall.SIGTERM mainly for docker.
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := os.MkdirAll(conf.DataDir(), 0o700); err != nil {
			return fmt.Errorf("ensure data folder exists: %w", err)
		}

		app := New(WithConfig(conf))
		if err := app.Lock(); err != nil {
			return fmt.Errorf("getting exclusive file lock: %w", err)
		}
		defer app.Unlock()

		if err := app.Initialize(); err != nil {
			return fmt.Errorf("initializing agent: %w", err)
		}

		// don't print usage on errors from this point forward
		c.SilenceUsage = true
		return app.Start(ctx)
	},
}

// VersionCmd returns the current version of the agent.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(c *cobra.Command, args []string) {
		fmt.Print(cmd.Version)
		if cmd.Commit != "" {
			fmt.Printf("+%s", cmd.Commit)
		}
		fmt.Println()
	},
}

func init() {
	configPath = cmd.AddFlags(Cmd.PersistentFlags(), &defaults)
	Cmd.AddCommand(VersionCmd)
}

func loadConfig() (*config.Config, error) {
	if *configPath != "" {
		if err := config.LoadConfig(*configPath, viper.GetViper()); err != nil {
			return nil, err
		}
	}
	conf, err := config.Unmarshal(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return &conf, nil
}

// Option to modify an App instance.
type Option func(app *App)

// WithConfig overwrites the default App config.
func WithConfig(conf *config.Config) Option {
	return func(app *App) {
		app.Config = conf
	}
}

// WithLog sets the application logger, suppressing the one built from
// config.
func WithLog(logger *zap.Logger) Option {
	return func(app *App) {
		app.log = logger
		app.logGiven = true
	}
}

// New creates an agent App.
func New(opts ...Option) *App {
	defaultConfig := config.DefaultConfig()
	app := &App{
		Config: &defaultConfig,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// App owns a running agent instance.
type App struct {
	Config   *config.Config
	log      *zap.Logger
	logGiven bool
	fileLock *flock.Flock
}

// Lock locks the data folder for exclusive use. It returns an error if
// another agent instance already holds it.
func (app *App) Lock() error {
	lockPath := filepath.Join(app.Config.DataDir(), lockFileName)
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("flock %s: %w", lockPath, err)
	} else if !locked {
		return fmt.Errorf("only one agent per data folder should be running (locking file %s)", fl.Path())
	}
	app.fileLock = fl
	return nil
}

// Unlock unlocks the data folder. It is a no-op if the app holds no
// lock.
func (app *App) Unlock() {
	if app.fileLock == nil {
		return
	}
	if err := app.fileLock.Unlock(); err != nil {
		app.log.Error("failed to unlock file",
			zap.String("path", app.fileLock.Path()),
			zap.Error(err),
		)
	}
}

// Initialize builds the logger from config and reports startup info.
func (app *App) Initialize() error {
	if !app.logGiven {
		logger, err := buildLogger(app.Config.LOGGING)
		if err != nil {
			return err
		}
		app.log = logger
	}
	app.log.Info("starting sync agent",
		zap.String("version", cmd.Version),
		zap.String("user", app.Config.User),
		zap.String("session", app.Config.Session),
		zap.Object("transport", &app.Config.Transport),
	)
	return nil
}

// Start builds the store client and every sync channel, then runs the
// scheduler until ctx is cancelled. It blocks for the lifetime of the
// agent.
func (app *App) Start(ctx context.Context) error {
	conf := app.Config

	store, err := transport.New(conf.Transport, transport.WithLogger(app.log.Named("transport")))
	if err != nil {
		return fmt.Errorf("building store client: %w", err)
	}

	if conf.CollectMetrics {
		srv, err := metrics.StartServer(conf.MetricsListen, app.log.Named("metrics"))
		if err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
		defer srv.Close()
	}

	identity := conf.Identity()
	clock := clockwork.NewRealClock()
	fs := afero.NewOsFs()

	// the headless agent has no host simulation attached: it always
	// sits in a synchronizable scene and never flies a vessel
	gate := &session.Flag{}
	gate.Set(true)
	info := session.NewStatic(flightScene, clock)

	reporter := events.NewReporter(events.WithLogger(app.log.Named("events")))
	defer reporter.Close()

	state := scenario.NewMemState()

	tracker := presence.New(store, identity, info,
		presence.WithLogger(app.log.Named("presence")),
		presence.WithConfig(conf.Presence),
	)
	engine := scenario.New(store, state, identity,
		scenario.WithLogger(app.log.Named("scenario")),
		scenario.WithConfig(conf.Scenario),
	)
	votes := vote.New(store, state, engine, reporter, identity,
		vote.WithLogger(app.log.Named("vote")),
		vote.WithConfig(conf.Vote),
	)

	flagsCfg := conf.Flags
	flagsCfg.Dir = resolveDir(conf.DataDir(), flagsCfg.Dir)
	flagsCh := flags.New(store, fs, reporter, identity,
		flags.WithLogger(app.log.Named("flags")),
		flags.WithConfig(flagsCfg),
	)

	vesselsCfg := conf.Vessels
	vesselsCfg.Dir = resolveDir(conf.DataDir(), vesselsCfg.Dir)
	vesselsCh := vessels.New(store, fs, reporter, identity,
		vessels.WithLogger(app.log.Named("vessels")),
		vessels.WithConfig(vesselsCfg),
	)

	orbitsCh := orbits.New(store, grounded{}, identity,
		orbits.WithLogger(app.log.Named("orbits")),
		orbits.WithConfig(conf.Orbits),
	)
	chatCh := chat.New(store, identity,
		chat.WithLogger(app.log.Named("chat")),
		chat.WithConfig(conf.Chat),
	)

	sched := scheduler.New(gate,
		scheduler.WithLogger(app.log.Named("scheduler")),
		scheduler.WithConfig(conf.Scheduler),
	)
	for _, ch := range []syncChannel{tracker, engine, votes, flagsCh, vesselsCh, orbitsCh, chatCh} {
		if err := sched.Register(ch, ch.Interval()); err != nil {
			return fmt.Errorf("registering %s channel: %w", ch.Name(), err)
		}
	}

	var eg errgroup.Group
	eg.Go(func() error {
		app.watchEvents(ctx, reporter, chatCh.Subscribe())
		return nil
	})

	sched.Start(ctx)
	app.log.Info("sync agent running",
		zap.String("user", identity.User),
		zap.String("session", identity.Session),
	)

	<-ctx.Done()
	app.log.Info("shutting down")
	sched.Close()

	// withdraw presence so the rest of the session sees the exit now
	// instead of after the online window expires
	offCtx, cancelOff := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelOff()
	tracker.Close(offCtx)

	chatCh.Close()
	reporter.Close()
	eg.Wait()
	return nil
}

// watchEvents logs what a host UI would render: status toasts, vote
// prompts and chat traffic.
func (app *App) watchEvents(ctx context.Context, reporter *events.Reporter, msgs <-chan chat.Message) {
	statuses := reporter.SubscribeStatus()
	prompts := reporter.SubscribePrompts()
	logger := app.log.Named("ui")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-statuses:
			if !ok {
				return
			}
			if ev.Error {
				logger.Warn(ev.Text)
			} else {
				logger.Info(ev.Text)
			}
		case ev, ok := <-prompts:
			if !ok {
				return
			}
			if ev.Withdrawn {
				logger.Info("vote prompt withdrawn", zap.String("subject", ev.Subject))
				continue
			}
			logger.Info("vote prompt",
				zap.String("subject", ev.Subject),
				zap.String("title", ev.Title),
				zap.String("requester", ev.Requester),
			)
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			logger.Info("chat",
				zap.String("user", msg.User),
				zap.String("text", msg.Text),
			)
		}
	}
}

// syncChannel is what the agent registers with the scheduler: a channel
// that also knows its own cadence.
type syncChannel interface {
	scheduler.Channel
	Interval() time.Duration
}

// grounded is the orbit source of an agent with no live vessel.
type grounded struct{}

func (grounded) Marker() (orbits.Marker, bool) {
	return orbits.Marker{}, false
}

func resolveDir(dataDir, dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(dataDir, dir)
}

func buildLogger(cfg config.LoggerConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	var encoder zapcore.Encoder
	switch cfg.Encoder {
	case config.ConsoleLogEncoder:
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	case config.JSONLogEncoder:
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		return nil, fmt.Errorf("unknown log encoder %q", cfg.Encoder)
	}
	return zap.New(zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)), nil
}
