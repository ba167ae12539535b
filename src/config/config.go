package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

// Recognized config keys in capit.rune.
const (
	KeyScreenshotDirectory = "screenshot_directory"
	KeyTheme               = "theme"
	KeyAccentColour        = "accent_colour"
	KeyBarBackgroundColour = "bar_background_colour"
)

// Theme selects the bar/overlay colour scheme.
type Theme string

const (
	ThemeAuto  Theme = "auto"
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// Default colours, ARGB. Accent is the selection/bar highlight, background
// is the bar surface colour.
const (
	DefaultAccentColour        uint32 = 0xFF0A84FF
	DefaultBarBackgroundColour uint32 = 0xFF0F1115
)

// Config is the fully resolved daemon configuration. Every field is
// populated: resolution falls back to compiled-in defaults per field.
type Config struct {
	ScreenshotDirectory string
	Theme               Theme
	AccentColour        uint32 // ARGB 0xAARRGGBB
	BarBackgroundColour uint32 // ARGB 0xAARRGGBB
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		ScreenshotDirectory: defaultScreenshotDir(),
		Theme:               ThemeAuto,
		AccentColour:        DefaultAccentColour,
		BarBackgroundColour: DefaultBarBackgroundColour,
	}
}

func defaultScreenshotDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Pictures", "Screenshots")
}

// Resolve loads configuration with layered per-field fallback:
// user config file, then system config file, then compiled-in defaults.
// It never fails; a malformed file or field degrades to the next source
// with a warning.
func Resolve() Config {
	return resolveFrom(candidatePaths())
}

// candidatePaths returns config file locations in priority order.
func candidatePaths() []string {
	var paths []string
	seen := map[string]bool{}
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	add(filepath.Join(xdg.ConfigHome, "capit", "capit.rune"))
	if home, err := os.UserHomeDir(); err == nil {
		add(filepath.Join(home, ".config", "capit", "capit.rune"))
	}
	add(filepath.Join("/etc", "capit", "capit.rune"))
	return paths
}

func resolveFrom(paths []string) Config {
	cfg := Default()

	// Parse every candidate file up front. A structurally unparsable file
	// degrades to "absent" for all of its fields.
	var sources []map[string]string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		values, err := godotenv.Read(p)
		if err != nil {
			log.Printf("config: cannot parse %s, ignoring file: %v", p, err)
			continue
		}
		sources = append(sources, values)
	}

	cfg.ScreenshotDirectory = resolveField(sources, KeyScreenshotDirectory, cfg.ScreenshotDirectory, parseDirectory)
	cfg.Theme = resolveField(sources, KeyTheme, cfg.Theme, parseTheme)
	cfg.AccentColour = resolveField(sources, KeyAccentColour, cfg.AccentColour, ParseHexColour)
	cfg.BarBackgroundColour = resolveField(sources, KeyBarBackgroundColour, cfg.BarBackgroundColour, ParseHexColour)
	return cfg
}

// resolveField walks the sources in priority order and returns the first
// well-formed value for key, or def when no source provides one.
func resolveField[T any](sources []map[string]string, key string, def T, parse func(string) (T, error)) T {
	for _, src := range sources {
		raw, ok := src[key]
		if !ok {
			continue
		}
		v, err := parse(raw)
		if err != nil {
			log.Printf("config: invalid %s=%q, trying next source: %v", key, raw, err)
			continue
		}
		return v
	}
	return def
}

func parseDirectory(raw string) (string, error) {
	dir := strings.TrimSpace(os.ExpandEnv(raw))
	if dir == "" {
		return "", fmt.Errorf("empty path")
	}
	return dir, nil
}

func parseTheme(raw string) (Theme, error) {
	switch Theme(strings.ToLower(strings.TrimSpace(raw))) {
	case ThemeAuto:
		return ThemeAuto, nil
	case ThemeDark:
		return ThemeDark, nil
	case ThemeLight:
		return ThemeLight, nil
	}
	return "", fmt.Errorf("expected auto|dark|light")
}

// ParseHexColour parses "#RRGGBB" into an opaque ARGB value.
func ParseHexColour(raw string) (uint32, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "#") {
		return 0, fmt.Errorf("colour must start with #")
	}
	hex := s[1:]
	if len(hex) != 6 {
		return 0, fmt.Errorf("colour must be 6 hex digits (RRGGBB)")
	}
	rgb, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid hex colour")
	}
	return 0xFF000000 | uint32(rgb), nil
}
