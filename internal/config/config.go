// Package config loads the daemon's YAML configuration.
//
// Defaults come from DefaultConfig, a config file is decoded on top of them
// and flag overrides are applied last. Validate is called once after all
// three so the rest of the code can assume a well-formed Config.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/buttonman/internal/actions"
	"github.com/sweeney/buttonman/internal/gpio"
	"github.com/sweeney/buttonman/internal/logic"
	"github.com/sweeney/buttonman/internal/registry"
)

// DefaultPath is read when it exists and no -config flag is given.
const DefaultPath = "/etc/buttonman.yaml"

// Config is the top-level configuration.
type Config struct {
	Pins     PinsConfig     `yaml:"pins"`
	Timing   TimingConfig   `yaml:"timing"`
	Actions  ActionsConfig  `yaml:"actions"`
	Commands CommandsConfig `yaml:"commands"`
	Registry RegistryConfig `yaml:"registry"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	HTTP     HTTPConfig     `yaml:"http"`
	Beeps    bool           `yaml:"beeps"`
	LogLevel string         `yaml:"log_level"`
}

// PinsConfig holds BCM line offsets.
type PinsConfig struct {
	Chip      string `yaml:"chip"`
	Key1      int    `yaml:"key1"`
	Key2      int    `yaml:"key2"`
	Buzzer    int    `yaml:"buzzer"`
	LED1      int    `yaml:"led1"`
	LED2      int    `yaml:"led2"`
	ActiveLow bool   `yaml:"active_low"`
}

// TimingConfig holds every duration the panel uses.
type TimingConfig struct {
	Poll           time.Duration `yaml:"poll"`
	Debounce       time.Duration `yaml:"debounce"`
	BootDebounce   time.Duration `yaml:"boot_debounce"`
	BootWindow     time.Duration `yaml:"boot_window"`
	BootHold       time.Duration `yaml:"boot_hold"`
	HoldPeriod     time.Duration `yaml:"hold_period"`
	ReleaseTimeout time.Duration `yaml:"release_timeout"`
}

// ActionsConfig is the action table. Entries in the file replace the
// default entry for the same slot.
type ActionsConfig struct {
	Click map[int]actions.Spec `yaml:"click"`
	Hold  map[int]actions.Spec `yaml:"hold"`
	Boot  actions.Spec         `yaml:"boot"`
}

// CommandsConfig holds the system commands used by built-in actions.
type CommandsConfig struct {
	WifiReset [][]string `yaml:"wifi_reset"`
	APStart   [][]string `yaml:"ap_start"`
	Zero      []string   `yaml:"zero,omitempty"`
	// Boot is started detached after the boot check. Empty disables it.
	Boot []string `yaml:"boot,omitempty"`
}

type RegistryConfig struct {
	Dir          string        `yaml:"dir"`
	CloseTimeout time.Duration `yaml:"close_timeout"`
}

type MQTTConfig struct {
	Broker    string        `yaml:"broker"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a fully populated Config.
func DefaultConfig() Config {
	return Config{
		Pins: PinsConfig{
			Chip:      gpio.DefaultChip,
			Key1:      gpio.DefaultPinKey1,
			Key2:      gpio.DefaultPinKey2,
			Buzzer:    gpio.DefaultPinBuzzer,
			LED1:      gpio.DefaultPinLED1,
			LED2:      gpio.DefaultPinLED2,
			ActiveLow: true,
		},
		Timing: TimingConfig{
			Poll:           100 * time.Millisecond,
			Debounce:       40 * time.Millisecond,
			BootDebounce:   45 * time.Millisecond,
			BootWindow:     logic.DefaultBootWindow,
			BootHold:       logic.DefaultBootHold,
			HoldPeriod:     logic.DefaultHoldPeriod,
			ReleaseTimeout: logic.DefaultReleaseTimeout,
		},
		Actions: ActionsConfig{
			Click: actions.DefaultClicks(),
			Hold:  actions.DefaultHolds(),
			Boot:  actions.DefaultBoot(),
		},
		Commands: CommandsConfig{
			WifiReset: actions.DefaultWifiReset(),
			APStart:   actions.DefaultAPStart(),
			Boot:      actions.DefaultBootScript(),
		},
		Registry: RegistryConfig{
			Dir:          registry.DefaultDir,
			CloseTimeout: registry.DefaultCloseTimeout,
		},
		MQTT: MQTTConfig{
			Heartbeat: 60 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: ":80",
		},
		Beeps:    true,
		LogLevel: "info",
	}
}

// Load reads path on top of DefaultConfig. Unknown keys are rejected.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of DefaultConfig.
func Parse(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		// An empty file decodes to io.EOF and means "all defaults".
		if len(bytes.TrimSpace(b)) == 0 {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

// FlagOverrides are applied on top of a loaded config. Nil fields are
// ignored; non-nil fields win even when they hold a zero value.
type FlagOverrides struct {
	Poll          *time.Duration
	Debounce      *time.Duration
	Broker        *string
	HTTPAddr      *string
	LogLevel      *string
	Beeps         *bool
	RegistryDir   *string
	SkipBootCheck *bool
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Poll != nil {
		cfg.Timing.Poll = *o.Poll
	}
	if o.Debounce != nil {
		cfg.Timing.Debounce = *o.Debounce
	}
	if o.Broker != nil {
		cfg.MQTT.Broker = *o.Broker
	}
	if o.HTTPAddr != nil {
		cfg.HTTP.Addr = *o.HTTPAddr
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	if o.Beeps != nil {
		cfg.Beeps = *o.Beeps
	}
	if o.RegistryDir != nil {
		cfg.Registry.Dir = *o.RegistryDir
	}
	if o.SkipBootCheck != nil && *o.SkipBootCheck {
		cfg.Timing.BootWindow = 0
	}
}

// Validate checks the config and returns the first problem found.
func (c *Config) Validate() error {
	p := c.Pins
	if p.Chip == "" {
		return errors.New("pins.chip must not be empty")
	}
	pins := map[string]int{"key1": p.Key1, "key2": p.Key2, "buzzer": p.Buzzer, "led1": p.LED1, "led2": p.LED2}
	seen := make(map[int]string)
	for _, name := range []string{"key1", "key2", "buzzer", "led1", "led2"} {
		pin := pins[name]
		if pin < 0 {
			return fmt.Errorf("pins.%s must be >= 0", name)
		}
		if other, dup := seen[pin]; dup {
			return fmt.Errorf("pins.%s and pins.%s both use line %d", other, name, pin)
		}
		seen[pin] = name
	}

	t := c.Timing
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"timing.poll", t.Poll},
		{"timing.debounce", t.Debounce},
		{"timing.boot_debounce", t.BootDebounce},
		{"timing.hold_period", t.HoldPeriod},
		{"timing.release_timeout", t.ReleaseTimeout},
	}
	for _, f := range positive {
		if f.d <= 0 {
			return fmt.Errorf("%s must be > 0", f.name)
		}
	}
	if t.BootWindow < 0 {
		return errors.New("timing.boot_window must be >= 0")
	}
	if t.BootWindow > 0 && t.BootHold <= 0 {
		return errors.New("timing.boot_hold must be > 0")
	}
	if t.BootWindow > 0 && t.BootHold >= t.BootWindow {
		log.Warnf("config: boot_hold %v is not shorter than boot_window %v, boot action can never fire", t.BootHold, t.BootWindow)
	}
	if t.ReleaseTimeout <= t.Poll {
		log.Warnf("config: release_timeout %v is not longer than poll %v, clicks may not chain", t.ReleaseTimeout, t.Poll)
	}

	for n, spec := range c.Actions.Click {
		if n < 1 || n > logic.MaxClicks {
			return fmt.Errorf("actions.click.%d: slot out of range 1..%d", n, logic.MaxClicks)
		}
		if err := validSpec(spec); err != nil {
			return fmt.Errorf("actions.click.%d: %w", n, err)
		}
	}
	for k, spec := range c.Actions.Hold {
		if k < 0 || k > logic.MaxHoldPrefix {
			return fmt.Errorf("actions.hold.%d: slot out of range 0..%d", k, logic.MaxHoldPrefix)
		}
		if err := validSpec(spec); err != nil {
			return fmt.Errorf("actions.hold.%d: %w", k, err)
		}
	}
	if err := validSpec(c.Actions.Boot); err != nil {
		return fmt.Errorf("actions.boot: %w", err)
	}

	if len(c.Commands.Boot) > 0 && c.Commands.Boot[0] == "" {
		return errors.New("commands.boot: empty script path")
	}

	if c.Registry.Dir == "" {
		return errors.New("registry.dir must not be empty")
	}
	if c.Registry.CloseTimeout <= 0 {
		return errors.New("registry.close_timeout must be > 0")
	}
	if c.MQTT.Broker != "" && c.MQTT.Heartbeat <= 0 {
		return errors.New("mqtt.heartbeat must be > 0")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

func validSpec(s actions.Spec) error {
	if s.Kind == "" {
		return nil
	}
	return s.Validate()
}
