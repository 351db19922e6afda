// Command buttonman turns two GPIO buttons into click and hold gestures and
// runs the action bound to each finished gesture.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/buttonman/internal/actions"
	"github.com/sweeney/buttonman/internal/config"
	"github.com/sweeney/buttonman/internal/gpio"
	"github.com/sweeney/buttonman/internal/mqtt"
	"github.com/sweeney/buttonman/internal/registry"
	"github.com/sweeney/buttonman/internal/scheduler"
	"github.com/sweeney/buttonman/internal/status"
	"github.com/sweeney/buttonman/internal/web"
)

// statusRefresh is how often connection state is copied into the tracker and
// how often the websocket hub looks for changes.
const statusRefresh = time.Second

type options struct {
	configPath string
	overrides  config.FlagOverrides
	printState bool
	closeAll   bool
	listenStop bool
}

func main() {
	def := config.DefaultConfig()

	configPath := flag.String("config", "", "YAML config file (default "+config.DefaultPath+" if present)")
	poll := flag.Duration("poll", def.Timing.Poll, "Scheduler period")
	debounce := flag.Duration("debounce", def.Timing.Debounce, "Button debounce window")
	broker := flag.String("broker", def.MQTT.Broker, "MQTT broker address (empty to disable)")
	httpAddr := flag.String("http", def.HTTP.Addr, "HTTP status address (empty to disable)")
	logLevel := flag.String("log-level", def.LogLevel, "Log level: debug, info, warn, error")
	skipBoot := flag.Bool("skip-boot-check", false, "Skip the boot-time access point check")
	printState := flag.Bool("print-state", false, "Print button levels and exit")
	closeAll := flag.Bool("close-all", false, "Stop every registered process and exit")
	listenStop := flag.Bool("listen-stop", false, "Register this process so close-all can stop it")

	flag.Parse()

	// Only flags given on the command line override the config file.
	var o config.FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "poll":
			o.Poll = poll
		case "debounce":
			o.Debounce = debounce
		case "broker":
			o.Broker = broker
		case "http":
			o.HTTPAddr = httpAddr
		case "log-level":
			o.LogLevel = logLevel
		case "skip-boot-check":
			o.SkipBootCheck = skipBoot
		}
	})

	err := run(options{
		configPath: *configPath,
		overrides:  o,
		printState: *printState,
		closeAll:   *closeAll,
		listenStop: *listenStop,
	})
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err != nil {
			return config.DefaultConfig(), nil
		}
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	log.Infof("loaded config from %s", path)
	return cfg, nil
}

func run(opts options) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	opts.overrides.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)

	reg := registry.NewSystem(cfg.Registry.Dir)

	if opts.closeAll {
		return closeAllRegistered(reg, cfg.Registry.CloseTimeout)
	}

	src, err := gpio.NewRealSource(cfg.Pins.Chip, cfg.Pins.ActiveLow, cfg.Pins.Key1, cfg.Pins.Key2)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer src.Close()

	if opts.printState {
		return printState(src, cfg.Pins)
	}

	outputs, err := gpio.NewRealOutputs(cfg.Pins.Chip,
		map[string]int{
			gpio.OutputBuzzer: cfg.Pins.Buzzer,
			gpio.OutputLED1:   cfg.Pins.LED1,
			gpio.OutputLED2:   cfg.Pins.LED2,
		},
		map[string]bool{gpio.OutputLED1: true},
	)
	if err != nil {
		return fmt.Errorf("init outputs: %w", err)
	}
	defer outputs.Close()

	if opts.listenStop {
		if err := reg.RegisterSelf(); err != nil {
			return fmt.Errorf("register: %w", err)
		}
		defer func() {
			if err := reg.UnregisterSelf(true); err != nil {
				log.Warnf("unregister: %v", err)
			}
		}()
		log.Infof("registered in %s", reg.Dir())
	}

	runner := actions.ExecRunner{}
	table, err := actions.NewTable(cfg.Actions.Click, cfg.Actions.Hold, cfg.Actions.Boot, actions.Deps{
		Runner:      runner,
		Registry:    reg,
		Outputs:     outputs,
		Beeper:      actions.NewBeeper(outputs, cfg.Beeps),
		WifiReset:   cfg.Commands.WifiReset,
		APStart:     cfg.Commands.APStart,
		Zero:        cfg.Commands.Zero,
		StopTimeout: cfg.Registry.CloseTimeout,
	})
	if err != nil {
		return fmt.Errorf("action table: %w", err)
	}

	publisher, err := newPublisher(cfg.MQTT.Broker)
	if err != nil {
		return err
	}
	defer publisher.Close()

	var heartbeat time.Duration
	if cfg.MQTT.Broker != "" {
		heartbeat = cfg.MQTT.Heartbeat
	}
	tracker := status.NewTracker(time.Now(), statusConfig(cfg, heartbeat, table))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	d := newDaemon(tracker, publisher, publisher)
	panel := scheduler.New(scheduler.Config{
		Key1:           cfg.Pins.Key1,
		Key2:           cfg.Pins.Key2,
		ActiveLow:      cfg.Pins.ActiveLow,
		Period:         cfg.Timing.Poll,
		Debounce:       cfg.Timing.Debounce,
		BootDebounce:   cfg.Timing.BootDebounce,
		BootWindow:     cfg.Timing.BootWindow,
		BootHold:       cfg.Timing.BootHold,
		HoldPeriod:     cfg.Timing.HoldPeriod,
		ReleaseTimeout: cfg.Timing.ReleaseTimeout,
	}, src, table, scheduler.WithObserver(d))

	d.startup()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, ctx := errgroup.WithContext(context.Background())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var reason string
	g.Go(func() error {
		select {
		case s := <-sigCh:
			reason = signalName(s)
			log.Infof("received %v, shutting down", s)
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		d.publishLoop(ctx)
		return nil
	})

	g.Go(func() error {
		var hb <-chan time.Time
		if heartbeat > 0 {
			t := time.NewTicker(heartbeat)
			defer t.Stop()
			hb = t.C
		}
		refresh := time.NewTicker(statusRefresh)
		defer refresh.Stop()
		d.statusLoop(ctx, refresh.C, hb)
		return nil
	})

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker)
		g.Go(func() error {
			// The panel keeps running without the status page.
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("http server: %v", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			return srv.Shutdown(shutCtx)
		})
		g.Go(func() error {
			srv.Hub().Run(ctx, statusRefresh)
			return nil
		})
		log.Infof("http status server listening on %s", cfg.HTTP.Addr)
	}

	g.Go(func() error {
		return startPanel(ctx, panel, runner, cfg.Commands.Boot)
	})

	log.Infof("started: key1=%d key2=%d poll=%v debounce=%v hold=%v broker=%q",
		cfg.Pins.Key1, cfg.Pins.Key2, cfg.Timing.Poll, cfg.Timing.Debounce, cfg.Timing.HoldPeriod, cfg.MQTT.Broker)

	err = g.Wait()
	if err != nil && reason == "" {
		reason = "ERROR"
	}
	d.shutdown(reason)
	return err
}

// startPanel runs the boot check, starts the boot script and then runs the
// panel until ctx ends.
func startPanel(ctx context.Context, panel *scheduler.Panel, runner actions.Runner, bootScript []string) error {
	if _, err := panel.BootCheck(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("boot check: %w", err)
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := actions.StartScript(runner, bootScript); err != nil {
		log.Errorf("boot script: %v", err)
	}
	return panel.Run(ctx)
}

func newPublisher(broker string) (interface {
	mqtt.Publisher
	mqtt.ConnectionStatus
}, error) {
	if broker == "" {
		log.Info("mqtt disabled")
		return mqtt.NopPublisher{}, nil
	}
	host, _ := os.Hostname()
	p, err := mqtt.NewRealPublisher(broker, "buttonman-"+host)
	if err != nil {
		return nil, fmt.Errorf("init mqtt: %w", err)
	}
	return p, nil
}

func statusConfig(cfg config.Config, heartbeat time.Duration, table *actions.Table) status.Config {
	slots := make(map[string]string)
	for name, kind := range table.Slots() {
		slots[name] = string(kind)
	}
	return status.Config{
		PollMs:      cfg.Timing.Poll.Milliseconds(),
		DebounceMs:  cfg.Timing.Debounce.Milliseconds(),
		HoldMs:      cfg.Timing.HoldPeriod.Milliseconds(),
		HeartbeatMs: heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPPort:    cfg.HTTP.Addr,
		Key1Pin:     cfg.Pins.Key1,
		Key2Pin:     cfg.Pins.Key2,
		Slots:       slots,
	}
}

func closeAllRegistered(reg *registry.Registry, timeout time.Duration) error {
	terminated, killed, err := reg.CloseAll(context.Background(), timeout)
	fmt.Printf("terminated: %v, killed: %v\n", terminated, killed)
	return err
}

func printState(src gpio.EdgeSource, pins config.PinsConfig) error {
	for i, pin := range []int{pins.Key1, pins.Key2} {
		level, err := src.ReadLevel(pin)
		if err != nil {
			return fmt.Errorf("read gpio %d: %w", pin, err)
		}
		fmt.Printf("key%d (GPIO %d): %s\n", i+1, pin, pressedString(level != pins.ActiveLow))
	}
	return nil
}

func pressedString(pressed bool) string {
	if pressed {
		return "PRESSED"
	}
	return "RELEASED"
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
