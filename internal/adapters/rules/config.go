package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/ghalamif/telemdeck/internal/domain"
)

// ErrConfig marks a rule file that could not be read or decoded. The loader
// still returns the built-in defaults alongside it.
var ErrConfig = errors.New("rules config")

// ErrorCodeSpec is one entry of the "error_codes" list in the rule file.
// Code accepts a single string or a list of aliases.
type ErrorCodeSpec struct {
	Code     []string `mapstructure:"code" json:"code"`
	Priority string   `mapstructure:"priority" json:"priority"`
	Message  string   `mapstructure:"message" json:"message"`
	Action   *string  `mapstructure:"action" json:"action"`
}

// FileSpec mirrors the JSON rule file. Nil fields were absent from the source
// and fall back to their defaults.
type FileSpec struct {
	ErrorCodes *[]ErrorCodeSpec
	Conditions *[]string
}

// Config is the resolved rule set used by the engine.
type Config struct {
	Path       string
	ErrorCodes []domain.ErrorCodeEntry
	Conditions []domain.Condition
}

// DefaultErrorCodes is the built-in error code table.
func DefaultErrorCodes() []ErrorCodeSpec {
	action := func(s string) *string { return &s }
	return []ErrorCodeSpec{
		{Code: []string{"0x0", "0"}, Priority: "info", Message: "OK - System operational"},
		{Code: []string{"0x1", "1"}, Priority: "warning", Message: "Hydrogen stick depleted", Action: action("Replace the hydrogen stick")},
		{Code: []string{"0x3", "3"}, Priority: "error", Message: "Fuel cell fault", Action: action("Check the fuel cell stack and wiring")},
		{Code: []string{"0x8", "8"}, Priority: "error", Message: "Battery low", Action: action("Replace the battery")},
		{Code: []string{"0x9", "9"}, Priority: "error", Message: "Battery low and hydrogen stick depleted", Action: action("Replace the battery and the hydrogen stick")},
		{Code: []string{"0xb", "0xB", "b", "B"}, Priority: "critical", Message: "Multiple system faults", Action: action("Stop and inspect the vehicle")},
	}
}

// DefaultConditions is the built-in dynamic rule list.
func DefaultConditions() []string {
	return []string{
		"warning: Vbat < 7.2: Low battery voltage {Vbat}V",
		"critical: Tfc > 80: Fuel cell overheating {Tfc}C",
		"warning: Vfc < 6 | Vfc > 10: Fuel cell voltage out of range {Vfc}V",
	}
}

// Default resolves the built-in rules.
func Default() *Config {
	cfg, _ := Resolve(FileSpec{})
	return cfg
}

// LoadConfig reads a JSON rule file. A missing file is created with the
// defaults. Whatever goes wrong, a usable config is returned; the error lists
// the problems found (unreadable file, skipped entries and conditions).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.Path = path
		if werr := writeDefaults(path); werr != nil {
			return cfg, fmt.Errorf("%w: create default %s: %v", ErrConfig, path, werr)
		}
		return cfg, nil
	}

	if err := v.ReadInConfig(); err != nil {
		cfg := Default()
		cfg.Path = path
		return cfg, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}

	var spec FileSpec
	var errs []error
	if v.IsSet("error_codes") {
		var codes []ErrorCodeSpec
		if err := v.UnmarshalKey("error_codes", &codes); err != nil {
			errs = append(errs, fmt.Errorf("%w: error_codes: %v", ErrConfig, err))
		} else {
			spec.ErrorCodes = &codes
		}
	}
	if v.IsSet("conditions") {
		conds := v.GetStringSlice("conditions")
		spec.Conditions = &conds
	}

	cfg, err := Resolve(spec)
	cfg.Path = path
	return cfg, errors.Join(append(errs, err)...)
}

// Resolve turns a file spec into a rule set, taking defaults for absent
// sections. Invalid entries and conditions are skipped and reported.
func Resolve(spec FileSpec) (*Config, error) {
	codes := DefaultErrorCodes()
	if spec.ErrorCodes != nil {
		codes = *spec.ErrorCodes
	}
	conds := DefaultConditions()
	if spec.Conditions != nil {
		conds = *spec.Conditions
	}

	cfg := &Config{}
	var errs []error
	for i, c := range codes {
		entry, err := resolveErrorCode(c)
		if err != nil {
			errs = append(errs, fmt.Errorf("error_codes[%d]: %w", i, err))
			continue
		}
		cfg.ErrorCodes = append(cfg.ErrorCodes, entry)
	}
	for _, src := range conds {
		cond, err := ParseCondition(src)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cfg.Conditions = append(cfg.Conditions, cond)
	}
	return cfg, errors.Join(errs...)
}

func resolveErrorCode(c ErrorCodeSpec) (domain.ErrorCodeEntry, error) {
	codes := make([]string, 0, len(c.Code))
	for _, code := range c.Code {
		if code = strings.TrimSpace(code); code != "" {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return domain.ErrorCodeEntry{}, errors.New("empty code set")
	}
	prio, err := domain.ParsePriority(c.Priority)
	if err != nil {
		return domain.ErrorCodeEntry{}, err
	}
	entry := domain.ErrorCodeEntry{Codes: codes, Priority: prio, Message: c.Message}
	if c.Action != nil {
		entry.Action = *c.Action
	}
	return entry, nil
}

// writeDefaults creates path with the built-in rules. Comparison operators
// are written as typed, not HTML escaped.
func writeDefaults(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	err = enc.Encode(struct {
		ErrorCodes []ErrorCodeSpec `json:"error_codes"`
		Conditions []string        `json:"conditions"`
	}{DefaultErrorCodes(), DefaultConditions()})
	return errors.Join(err, f.Close())
}
