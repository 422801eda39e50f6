// Package config loads the node settings from a JSON file, writing the
// defaults on first start.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
)

var settingsValidator = validator.New(validator.WithRequiredStructEnabled())

// Config is a JSON file holding one T, named after T, under dir.
type Config[T any] struct {
	dir          string
	defaultValue T

	loaded bool
	value  T
}

func New[T any](dir string, defaultValue T) *Config[T] {
	return &Config[T]{dir: dir, defaultValue: defaultValue}
}

func (c *Config[T]) filePath() string {
	name := reflect.TypeFor[T]().Name()
	return path.Join(c.dir, name+".json")
}

// Init reads the file, or creates it from the default value if it does
// not exist yet. The loaded value must pass validation.
func (c *Config[T]) Init() error {
	f, err := os.Open(c.filePath())
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := c.Update(func(t *T) { *t = c.defaultValue }); err != nil {
			return err
		}
		c.loaded = true
		return nil
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("config: parsing %s: %w", c.filePath(), err)
	}
	if err := validate(v); err != nil {
		return err
	}
	c.value = v
	c.loaded = true
	return nil
}

func (c *Config[T]) Get() T {
	return c.value
}

// Update applies updater to a copy of the value and persists it. The
// stored value is left unchanged if the result fails validation.
func (c *Config[T]) Update(updater func(*T)) error {
	temp := c.value
	updater(&temp)
	if err := validate(temp); err != nil {
		return err
	}
	b, err := json.MarshalIndent(temp, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path.Dir(c.filePath()), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(c.filePath(), b, 0644); err != nil {
		return err
	}
	c.value = temp
	return nil
}

// Loaded reports whether Init has succeeded.
func (c *Config[T]) Loaded() bool {
	return c.loaded
}

func validate(v any) error {
	if reflect.ValueOf(v).Kind() != reflect.Struct {
		return nil
	}
	if err := settingsValidator.Struct(v); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Duration is a time.Duration stored as a string such as "30s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Settings configures a multisig node.
type Settings struct {
	// MaxStageDuration bounds each stage; the deadline carries over
	// between stages.
	MaxStageDuration Duration `json:"max_stage_duration" validate:"required,gt=0"`
	// CeremonyIDWindow is how far past the latest ceremony id a message
	// may be before it is dropped.
	CeremonyIDWindow uint64 `json:"ceremony_id_window" validate:"gte=1"`
	MaxAuthorities   int    `json:"max_authorities" validate:"min=1,max=1000"`
	Scheme           string `json:"scheme" validate:"oneof=evm bitcoin solana babyjubjub"`
	KeystorePath     string `json:"keystore_path" validate:"required"`
	LogLevel         string `json:"log_level" validate:"oneof=debug info warn error"`
	ProtocolVersion  uint32 `json:"protocol_version" validate:"eq=1"`
}

func DefaultSettings() Settings {
	return Settings{
		MaxStageDuration: Duration(30 * time.Second),
		CeremonyIDWindow: 6000,
		MaxAuthorities:   150,
		Scheme:           "evm",
		KeystorePath:     "data/keys",
		LogLevel:         "info",
		ProtocolVersion:  1,
	}
}

// StageDuration returns MaxStageDuration as a time.Duration.
func (s Settings) StageDuration() time.Duration {
	return time.Duration(s.MaxStageDuration)
}
