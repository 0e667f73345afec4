// Package builtin provides the plugins shipped with the service: Time, Calculator, Weather, Text and
// the optional Web reader.
package builtin

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/mohammad-safakhou/kernelplanner/config"
	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
)

// Options controls construction of the built-in plugins.
type Options struct {
	Now         func() time.Time
	WeatherSeed int64
	Web         config.WebPluginConfig
	// Fetcher overrides the web fetcher selected from Web.RenderJS.
	Fetcher Fetcher
}

// OptionsFromConfig maps service configuration onto builtin options.
func OptionsFromConfig(cfg config.PluginsConfig) Options {
	return Options{WeatherSeed: cfg.Weather.Seed, Web: cfg.Web}
}

// Register installs every enabled built-in plugin into reg.
func Register(reg *plugin.Registry, opts Options) error {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	seed := opts.WeatherSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	sets := []struct {
		info plugin.Info
		fns  []plugin.Descriptor
	}{
		{TimeInfo, (&Time{Now: now}).Descriptors()},
		{CalculatorInfo, Calculator{}.Descriptors()},
		{WeatherInfo, NewWeather(rand.New(rand.NewPCG(uint64(seed), uint64(seed>>1)))).Descriptors()},
		{TextInfo, Text{}.Descriptors()},
	}
	if opts.Web.Enabled {
		fetcher := opts.Fetcher
		if fetcher == nil {
			fetcher = NewFetcher(opts.Web)
		}
		sets = append(sets, struct {
			info plugin.Info
			fns  []plugin.Descriptor
		}{WebInfo, (&Web{Fetcher: fetcher, Policy: opts.Web.Policy, MaxChars: opts.Web.MaxChars}).Descriptors()})
	}

	for _, s := range sets {
		reg.Describe(s.info)
		for _, d := range s.fns {
			if err := reg.Register(d); err != nil {
				return fmt.Errorf("register %s: %w", s.info.Name, err)
			}
		}
	}
	return nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
