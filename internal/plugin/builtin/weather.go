package builtin

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// WeatherInfo describes the Weather plugin.
var WeatherInfo = plugin.Info{
	Name:        "Weather",
	Description: "Provides weather information (mock implementation)",
	Version:     "1.0.0",
}

var weatherConditions = []string{
	"Sunny", "Partly Cloudy", "Cloudy", "Overcast",
	"Light Rain", "Heavy Rain", "Thunderstorm", "Snow",
	"Foggy", "Windy", "Clear",
}

var rainyConditions = map[string]bool{"Light Rain": true, "Heavy Rain": true, "Thunderstorm": true}

// cityTemps holds fahrenheit ranges for known cities.
var cityTemps = map[string][2]int{
	"new york":      {40, 85},
	"london":        {35, 75},
	"tokyo":         {45, 90},
	"paris":         {38, 82},
	"sydney":        {50, 95},
	"moscow":        {20, 70},
	"dubai":         {60, 110},
	"singapore":     {75, 95},
	"mumbai":        {70, 100},
	"san francisco": {50, 75},
}

// Weather generates plausible but random weather reports.
type Weather struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewWeather builds the mock using rng as its only source of randomness.
func NewWeather(rng *rand.Rand) *Weather {
	return &Weather{rng: rng}
}

// between returns a random int in [lo, hi].
func (w *Weather) between(lo, hi int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return lo + w.rng.IntN(hi-lo+1)
}

func (w *Weather) condition() string {
	return weatherConditions[w.between(0, len(weatherConditions)-1)]
}

func tempRange(city string) [2]int {
	if r, ok := cityTemps[strings.ToLower(strings.TrimSpace(city))]; ok {
		return r
	}
	return [2]int{30, 90}
}

func titleCity(city string) string {
	return cases.Title(language.Und).String(strings.TrimSpace(city))
}

// Descriptors lists the Weather functions.
func (w *Weather) Descriptors() []plugin.Descriptor {
	const p = "Weather"
	city := plugin.Schema{{Name: "city", Type: plugin.TypeString, Required: true, Description: "Name of the city"}}
	return []plugin.Descriptor{
		{
			Plugin: p, Name: "current_weather", Description: "Get current weather for a city", Params: city,
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				c := args.String("city")
				r := tempRange(c)
				return fmt.Sprintf("Current weather in %s:\n  Temperature: %d°F\n  Condition: %s\n  Humidity: %d%%\n  Wind: %d mph",
					titleCity(c), w.between(r[0], r[1]), w.condition(), w.between(30, 90), w.between(0, 30)), nil
			},
		},
		{
			Plugin: p, Name: "weather_forecast", Description: "Get weather forecast for a city",
			Params: plugin.Schema{
				city[0],
				{Name: "days", Type: plugin.TypeInteger, Default: 5, Description: "Number of days to forecast (1-7)"},
			},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				c := args.String("city")
				days := min(max(args.Int("days"), 1), 7)
				r := tempRange(c)
				var b strings.Builder
				fmt.Fprintf(&b, "%d-Day Weather Forecast for %s:\n", days, titleCity(c))
				for i := 0; i < days; i++ {
					temp := w.between(r[0], r[1])
					cond := w.condition()
					high := temp + w.between(5, 15)
					low := temp - w.between(5, 15)
					fmt.Fprintf(&b, "\n  Day %d: %s, High: %d°F, Low: %d°F", i+1, cond, high, low)
				}
				return b.String(), nil
			},
		},
		{
			Plugin: p, Name: "temperature", Description: "Get temperature for a city", Params: city,
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				c := args.String("city")
				r := tempRange(c)
				f := w.between(r[0], r[1])
				return fmt.Sprintf("Current temperature in %s: %d°F (%d°C)", titleCity(c), f, int(float64(f-32)*5/9)), nil
			},
		},
		{
			Plugin: p, Name: "will_rain", Description: "Check if it will rain today", Params: city,
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				c := titleCity(args.String("city"))
				rain := rainyConditions[w.condition()]
				chance := w.between(0, 100)
				if rain {
					return fmt.Sprintf("Yes, it is expected to rain in %s today. Chance of rain: %d%%", c, chance), nil
				}
				return fmt.Sprintf("No rain expected in %s today. Chance of rain: %d%%", c, chance), nil
			},
		},
		{
			Plugin: p, Name: "humidity", Description: "Get humidity level for a city", Params: city,
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				h := w.between(30, 90)
				desc := "Comfortable"
				switch {
				case h > 80:
					desc = "Very humid"
				case h > 60:
					desc = "Humid"
				case h < 40:
					desc = "Dry"
				}
				return fmt.Sprintf("Current humidity in %s: %d%% (%s)", titleCity(args.String("city")), h, desc), nil
			},
		},
		{
			Plugin: p, Name: "uv_index", Description: "Get UV index for a city", Params: city,
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				uv := w.between(0, 11)
				level, advice := uvLevel(uv)
				return fmt.Sprintf("UV Index in %s: %d (%s) - %s", titleCity(args.String("city")), uv, level, advice), nil
			},
		},
	}
}

func uvLevel(uv int) (level, advice string) {
	switch {
	case uv <= 2:
		return "Low", "No protection needed"
	case uv <= 5:
		return "Moderate", "Wear sunscreen"
	case uv <= 7:
		return "High", "Wear sunscreen and protective clothing"
	case uv <= 10:
		return "Very High", "Take extra precautions"
	}
	return "Extreme", "Avoid sun exposure"
}
