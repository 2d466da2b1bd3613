package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl"
)

// LoadConfig loads configuration from path, which may be a single HCL file
// or a directory of .hcl files merged in lexical order.
func LoadConfig(path string) (*Config, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return LoadConfigDir(path)
	}
	return ParseConfigFile(path)
}

// LoadConfigDir merges every *.hcl file in dir, sorted by name.
func LoadConfigDir(dir string) (*Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".hcl") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)

	result := &Config{}
	for _, file := range files {
		config, err := ParseConfigFile(file)
		if err != nil {
			return nil, fmt.Errorf("error loading %s: %w", file, err)
		}
		result = result.Merge(config)
	}
	return result, nil
}

// ParseConfigFile parses a single HCL config file.
func ParseConfigFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config, err := ParseConfig(string(content))
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	return config, nil
}

// ParseConfig parses HCL config text and converts the duration strings.
func ParseConfig(content string) (*Config, error) {
	config := &Config{}
	if err := hcl.Decode(config, content); err != nil {
		return nil, err
	}

	for _, h := range config.Handlers {
		if err := h.finalize(); err != nil {
			return nil, fmt.Errorf("handler %q: %w", h.Gametype, err)
		}
	}
	if t := config.Telemetry; t != nil {
		if err := t.finalize(); err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	}

	return config, nil
}

// finalize converts the duration strings of a handler block.
func (h *HandlerConfig) finalize() error {
	var err error
	if h.window, err = parseDuration(h.Window); err != nil {
		return fmt.Errorf("window: %w", err)
	}
	if h.waitDelay, err = parseDuration(h.WaitDelay); err != nil {
		return fmt.Errorf("wait_delay: %w", err)
	}
	if h.waitMax, err = parseDuration(h.WaitMax); err != nil {
		return fmt.Errorf("wait_max: %w", err)
	}
	return nil
}

func (t *TelemetryConfig) finalize() error {
	var err error
	if t.collectionInterval, err = parseDuration(t.CollectionInterval); err != nil {
		return fmt.Errorf("collection_interval: %w", err)
	}
	if t.retentionPeriod, err = parseDuration(t.RetentionPeriod); err != nil {
		return fmt.Errorf("retention_period: %w", err)
	}
	if t.collectionInterval == 0 {
		t.collectionInterval = time.Second
	}
	if t.retentionPeriod == 0 {
		t.retentionPeriod = time.Minute
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
