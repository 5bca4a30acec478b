package collector

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"
)

type scrapeFile struct {
	Global        globalConfig   `yaml:"global"`
	ScrapeConfigs []scrapeConfig `yaml:"scrape_configs"`
}

type globalConfig struct {
	ScrapeInterval model.Duration `yaml:"scrape_interval"`
}

type scrapeConfig struct {
	JobName        string         `yaml:"job_name"`
	ScrapeInterval model.Duration `yaml:"scrape_interval"`
	StaticConfigs  []staticConfig `yaml:"static_configs"`
}

type staticConfig struct {
	Targets []string `yaml:"targets"`
}

// WriteScrapeConfig writes a Prometheus configuration scraping target every interval.
func WriteScrapeConfig(path, target string, interval time.Duration) error {
	cfg := scrapeFile{
		Global: globalConfig{ScrapeInterval: model.Duration(interval)},
		ScrapeConfigs: []scrapeConfig{{
			JobName:        "airqual",
			ScrapeInterval: model.Duration(interval),
			StaticConfigs:  []staticConfig{{Targets: []string{target}}},
		}},
	}

	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return errors.Wrap(err, "failed to encode scrape config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
