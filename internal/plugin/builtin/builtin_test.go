package builtin

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/kernelplanner/config"
	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

type stubFetcher struct {
	page  Page
	err   error
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string) (Page, error) {
	s.calls++
	p := s.page
	p.URL = rawURL
	return p, s.err
}

func newRegistry(t *testing.T, web bool, f Fetcher) *plugin.Registry {
	t.Helper()
	reg := plugin.NewRegistry()
	opts := Options{
		Now:         func() time.Time { return fixedNow },
		WeatherSeed: 42,
		Fetcher:     f,
	}
	if web {
		opts.Web = config.WebPluginConfig{
			Enabled:  true,
			MaxChars: 50,
			Policy:   config.WebPolicyConfig{Disallow: []string{"blocked.example"}},
		}
	}
	if err := Register(reg, opts); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	return reg
}

func invoke(t *testing.T, reg *plugin.Registry, p, fn string, params map[string]any) string {
	t.Helper()
	out, err := reg.Invoke(context.Background(), p, fn, params)
	if err != nil {
		t.Fatalf("%s.%s: %v", p, fn, err)
	}
	return out
}

func TestRegisterPlugins(t *testing.T) {
	reg := newRegistry(t, false, nil)
	var names []string
	for _, info := range reg.Plugins() {
		names = append(names, info.Name)
	}
	if got := strings.Join(names, ","); got != "Calculator,Text,Time,Weather" {
		t.Fatalf("unexpected plugins %s", got)
	}
	if _, ok := reg.Lookup("Web", "read_article"); ok {
		t.Fatalf("web plugin registered while disabled")
	}
	if err := Register(reg, Options{}); !errors.Is(err, plugin.ErrDuplicateRegistration) {
		t.Fatalf("expected duplicate registration on second install, got %v", err)
	}
}

func TestTimeFunctions(t *testing.T) {
	reg := newRegistry(t, false, nil)
	cases := []struct {
		fn     string
		params map[string]any
		want   string
	}{
		{"current_time", nil, "2024-03-15T10:30:00Z"},
		{"current_date", nil, "2024-03-15"},
		{"current_time_only", nil, "10:30:00"},
		{"current_timestamp", nil, "1710498600"},
		{"day_of_week", nil, "Friday"},
		{"day_of_week", map[string]any{"date_string": "2024-12-25"}, "Wednesday"},
		{"date_diff", map[string]any{"date1": "2024-01-01", "date2": "2024-03-01"}, "60 days"},
		{"add_days", map[string]any{"date_string": "2024-02-28", "days": 2}, "2024-03-01T00:00:00Z"},
		{"add_days", map[string]any{"date_string": "2024-03-01", "days": "-1"}, "2024-02-29T00:00:00Z"},
		{"parse_date", map[string]any{"date_string": "March 5, 2024"}, "2024-03-05T00:00:00Z"},
		{"format_date", map[string]any{"date_string": "2024-07-04", "format_string": "%B %d, %Y (%a) %%"}, "July 04, 2024 (Thu) %"},
		{"next_cron", map[string]any{"expression": "0 12 * * *", "count": 2}, "2024-03-15T12:00:00Z\n2024-03-16T12:00:00Z"},
	}
	for _, tc := range cases {
		if got := invoke(t, reg, "Time", tc.fn, tc.params); got != tc.want {
			t.Errorf("%s(%v) = %q, want %q", tc.fn, tc.params, got, tc.want)
		}
	}
}

func TestTimeParseFailure(t *testing.T) {
	reg := newRegistry(t, false, nil)
	_, err := reg.Invoke(context.Background(), "Time", "parse_date", map[string]any{"date_string": "not a date"})
	if plugin.KindOf(err) != plugin.KindHandlerError {
		t.Fatalf("expected handler error, got %v", err)
	}
	_, err = reg.Invoke(context.Background(), "Time", "add_days", map[string]any{"date_string": "2024-03-15", "days": -9.2e18})
	if plugin.KindOf(err) != plugin.KindHandlerError {
		t.Fatalf("expected handler error for huge day offset, got %v", err)
	}
}

func TestCalculator(t *testing.T) {
	reg := newRegistry(t, false, nil)
	cases := []struct {
		fn     string
		params map[string]any
		want   string
	}{
		{"multiply", map[string]any{"a": 25, "b": 47}, "1175"},
		{"add", map[string]any{"a": "1.5", "b": 2}, "3.5"},
		{"subtract", map[string]any{"a": 10, "b": 4}, "6"},
		{"divide", map[string]any{"a": 7, "b": 2}, "3.5"},
		{"power", map[string]any{"a": 2, "b": 10}, "1024"},
		{"square_root", map[string]any{"a": 144}, "12"},
		{"percentage", map[string]any{"value": 200, "percent": 15}, "30"},
		{"evaluate", map[string]any{"expression": "2 + 3 * (4 - 1) ** 2"}, "29"},
		{"evaluate", map[string]any{"expression": "-7 % 3"}, "2"},
		{"celsius_to_fahrenheit", map[string]any{"celsius": 100}, "212.00°F"},
		{"fahrenheit_to_celsius", map[string]any{"fahrenheit": 32}, "0.00°C"},
	}
	for _, tc := range cases {
		if got := invoke(t, reg, "Calculator", tc.fn, tc.params); got != tc.want {
			t.Errorf("%s(%v) = %q, want %q", tc.fn, tc.params, got, tc.want)
		}
	}
}

func TestCalculatorErrors(t *testing.T) {
	reg := newRegistry(t, false, nil)
	cases := []struct {
		fn     string
		params map[string]any
		kind   string
	}{
		{"divide", map[string]any{"a": 1, "b": 0}, plugin.KindHandlerError},
		{"square_root", map[string]any{"a": -4}, plugin.KindHandlerError},
		{"evaluate", map[string]any{"expression": "1 / 0"}, plugin.KindHandlerError},
		{"evaluate", map[string]any{"expression": "import os"}, plugin.KindHandlerError},
		{"multiply", map[string]any{"a": "x", "b": 1}, plugin.KindInvalidParameters},
		{"multiply", map[string]any{"a": 1}, plugin.KindInvalidParameters},
	}
	for _, tc := range cases {
		_, err := reg.Invoke(context.Background(), "Calculator", tc.fn, tc.params)
		if plugin.KindOf(err) != tc.kind {
			t.Errorf("%s(%v): expected %s, got %v", tc.fn, tc.params, tc.kind, err)
		}
	}
}

func TestEvaluate(t *testing.T) {
	good := map[string]float64{
		"1+2*3":       7,
		"(1+2)*3":     9,
		"2**3**2":     512,
		"-2**2":       -4,
		"10/4":        2.5,
		" 8 % 3 ":     2,
		"((2))":       2,
		"1.5 * 2":     3,
		"--3":         3,
		"2 * -3":      -6,
		"100 - 1 - 1": 98,
	}
	for expr, want := range good {
		got, err := Evaluate(expr)
		if err != nil {
			t.Errorf("Evaluate(%q): %v", expr, err)
			continue
		}
		if got != want {
			t.Errorf("Evaluate(%q) = %v, want %v", expr, got, want)
		}
	}
	for _, expr := range []string{"", "1 +", "(1", "1 2", "2 ^ 3", "5 % 0", "1..2"} {
		if _, err := Evaluate(expr); err == nil {
			t.Errorf("Evaluate(%q) succeeded, want error", expr)
		}
	}
}

func TestWeatherDeterministicWithSeed(t *testing.T) {
	a := NewWeather(rand.New(rand.NewPCG(7, 3))).Descriptors()
	b := NewWeather(rand.New(rand.NewPCG(7, 3))).Descriptors()
	args := plugin.Args{"city": "tokyo"}
	for i := range a {
		if a[i].Name == "weather_forecast" {
			args["days"] = int64(3)
		}
		x, err := a[i].Handler(context.Background(), args)
		if err != nil {
			t.Fatalf("%s: %v", a[i].Name, err)
		}
		y, _ := b[i].Handler(context.Background(), args)
		if x != y {
			t.Fatalf("%s differs for identical seeds: %q vs %q", a[i].Name, x, y)
		}
		if !strings.Contains(x, "Tokyo") {
			t.Fatalf("%s output missing city: %q", a[i].Name, x)
		}
	}
}

func TestWeatherForecastClampsDays(t *testing.T) {
	reg := newRegistry(t, false, nil)
	out := invoke(t, reg, "Weather", "weather_forecast", map[string]any{"city": "paris", "days": 30})
	if !strings.HasPrefix(out, "7-Day Weather Forecast for Paris") {
		t.Fatalf("unexpected forecast header: %q", out)
	}
	if n := strings.Count(out, "Day "); n != 8 {
		t.Fatalf("expected 7 day lines, got %d in %q", n-1, out)
	}
	if _, err := reg.Invoke(context.Background(), "Weather", "weather_forecast", map[string]any{"city": "paris", "days": 2.5}); plugin.KindOf(err) != plugin.KindInvalidParameters {
		t.Fatalf("expected invalid parameters for fractional days, got %v", err)
	}
}

func TestUVLevel(t *testing.T) {
	for uv, want := range map[int]string{0: "Low", 4: "Moderate", 7: "High", 9: "Very High", 11: "Extreme"} {
		if got, _ := uvLevel(uv); got != want {
			t.Errorf("uvLevel(%d) = %q, want %q", uv, got, want)
		}
	}
}

func TestTextFunctions(t *testing.T) {
	reg := newRegistry(t, false, nil)
	cases := []struct {
		fn     string
		params map[string]any
		want   string
	}{
		{"to_upper", map[string]any{"text": "hello"}, "HELLO"},
		{"to_lower", map[string]any{"text": "HeLLo"}, "hello"},
		{"capitalize", map[string]any{"text": "hello big world"}, "Hello Big World"},
		{"reverse", map[string]any{"text": "abc€"}, "€cba"},
		{"word_count", map[string]any{"text": "one two  three"}, "3"},
		{"char_count", map[string]any{"text": "héllo"}, "5"},
		{"char_count_no_spaces", map[string]any{"text": "a b c"}, "3"},
		{"extract_emails", map[string]any{"text": "mail a@b.com or c@d.org, again a@b.com"}, "a@b.com; c@d.org"},
		{"extract_emails", map[string]any{"text": "none here"}, "No emails found"},
		{"extract_urls", map[string]any{"text": "see https://go.dev/doc and http://x.io"}, "https://go.dev/doc; http://x.io"},
		{"extract_phones", map[string]any{"text": "call 555-123-4567"}, "555-123-4567"},
		{"hash_text", map[string]any{"text": "abc"}, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{"hash_text", map[string]any{"text": "abc", "algorithm": "MD5"}, "900150983cd24fb0d6963f7d28e17f72"},
		{"hash_text", map[string]any{"text": "abc", "algorithm": "sha3-256"}, "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"},
		{"normalize_whitespace", map[string]any{"text": "  a \n\t b  "}, "a b"},
		{"remove_special_chars", map[string]any{"text": "a-b_c!"}, "abc"},
		{"contains_word", map[string]any{"text": "The Cat sat", "word": "cat"}, "Yes, 'cat' found in text"},
		{"contains_word", map[string]any{"text": "concatenate", "word": "cat"}, "No, 'cat' not found in text"},
		{"find_replace", map[string]any{"text": "a-a-a", "find": "a", "replace": "b"}, "b-b-b"},
		{"truncate", map[string]any{"text": "abcdefghij", "max_length": 6}, "abc..."},
		{"truncate", map[string]any{"text": "abcdefghij", "max_length": 6, "add_ellipsis": "false"}, "abcdef"},
		{"truncate", map[string]any{"text": "short", "max_length": 10}, "short"},
		{"extract_summary", map[string]any{"text": "First. Middle. Last!"}, "Summary: First. ... Last."},
		{"strip_html", map[string]any{"text": "<p>Hello <b>there</b></p><script>x()</script>"}, "Hello there"},
	}
	for _, tc := range cases {
		if got := invoke(t, reg, "Text", tc.fn, tc.params); got != tc.want {
			t.Errorf("%s(%v) = %q, want %q", tc.fn, tc.params, got, tc.want)
		}
	}
}

func TestChunkText(t *testing.T) {
	chunks := chunk("aaaa bbbb cccc dddd", 9)
	if len(chunks) != 2 || chunks[0] != "aaaa bbbb" || chunks[1] != "cccc dddd" {
		t.Fatalf("unexpected chunks %q", chunks)
	}
}

func TestReadabilityScore(t *testing.T) {
	if got := readabilityScore(""); got != "Unable to calculate score" {
		t.Fatalf("unexpected empty score %q", got)
	}
	if got := readabilityScore("The cat sat. The dog ran."); !strings.HasPrefix(got, "Readability: 5th grade") {
		t.Fatalf("unexpected score %q", got)
	}
}

func TestWebReadArticle(t *testing.T) {
	f := &stubFetcher{page: Page{Title: "Go", Text: "Go is an <b>open source</b> programming language that makes it simple to build software."}}
	reg := newRegistry(t, true, f)
	out := invoke(t, reg, "Web", "read_article", map[string]any{"url": "https://go.dev/"})
	if !strings.HasPrefix(out, "Title: Go\n\n") {
		t.Fatalf("missing title: %q", out)
	}
	body := strings.TrimPrefix(out, "Title: Go\n\n")
	if len([]rune(body)) != 50 || !strings.HasSuffix(body, "...") || strings.Contains(body, "<b>") {
		t.Fatalf("unexpected body %q", body)
	}
	if got := invoke(t, reg, "Web", "page_title", map[string]any{"url": "https://go.dev/"}); got != "Go" {
		t.Fatalf("unexpected title %q", got)
	}
}

func TestWebRejectsDisallowedAndInvalidURLs(t *testing.T) {
	f := &stubFetcher{}
	reg := newRegistry(t, true, f)
	for _, u := range []string{"https://news.blocked.example/a", "ftp://go.dev/", "not a url"} {
		_, err := reg.Invoke(context.Background(), "Web", "read_article", map[string]any{"url": u})
		if plugin.KindOf(err) != plugin.KindHandlerError {
			t.Errorf("%s: expected handler error, got %v", u, err)
		}
	}
	if f.calls != 0 {
		t.Fatalf("fetcher called %d times for rejected urls", f.calls)
	}
}
