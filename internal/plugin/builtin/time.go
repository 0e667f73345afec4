package builtin

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gorhill/cronexpr"
	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
)

// maxDayOffset keeps add_days inside the range time.Time can represent.
const maxDayOffset = 3_650_000

// TimeInfo describes the Time plugin.
var TimeInfo = plugin.Info{
	Name:        "Time",
	Description: "Provides current time, date, and time-related calculations",
	Version:     "1.0.0",
}

// Time implements clock and calendar functions. Now is injectable for tests.
type Time struct {
	Now func() time.Time
}

func (t *Time) now() time.Time {
	if t.Now == nil {
		return time.Now().UTC()
	}
	return t.Now().UTC()
}

func parseDate(s string) (time.Time, error) {
	d, err := dateparse.ParseIn(strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("could not parse date %q", s)
	}
	return d, nil
}

// Descriptors lists the Time functions.
func (t *Time) Descriptors() []plugin.Descriptor {
	const p = "Time"
	dateParam := plugin.Param{Name: "date_string", Type: plugin.TypeString, Required: true, Description: "Date in any common format"}
	return []plugin.Descriptor{
		{
			Plugin: p, Name: "current_time", Description: "Get the current date and time in ISO 8601 format",
			Handler: func(context.Context, plugin.Args) (string, error) {
				return t.now().Format(time.RFC3339), nil
			},
		},
		{
			Plugin: p, Name: "current_date", Description: "Get the current date in YYYY-MM-DD format",
			Handler: func(context.Context, plugin.Args) (string, error) {
				return t.now().Format("2006-01-02"), nil
			},
		},
		{
			Plugin: p, Name: "current_time_only", Description: "Get the current time in HH:MM:SS format",
			Handler: func(context.Context, plugin.Args) (string, error) {
				return t.now().Format("15:04:05"), nil
			},
		},
		{
			Plugin: p, Name: "current_timestamp", Description: "Get the current Unix timestamp",
			Handler: func(context.Context, plugin.Args) (string, error) {
				return strconv.FormatInt(t.now().Unix(), 10), nil
			},
		},
		{
			Plugin: p, Name: "parse_date", Description: "Parse a date string and return ISO format",
			Params: plugin.Schema{dateParam},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				d, err := parseDate(args.String("date_string"))
				if err != nil {
					return "", err
				}
				return d.Format(time.RFC3339), nil
			},
		},
		{
			Plugin: p, Name: "date_diff", Description: "Calculate the difference between two dates in days",
			Params: plugin.Schema{
				{Name: "date1", Type: plugin.TypeString, Required: true},
				{Name: "date2", Type: plugin.TypeString, Required: true},
			},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				d1, err := parseDate(args.String("date1"))
				if err != nil {
					return "", err
				}
				d2, err := parseDate(args.String("date2"))
				if err != nil {
					return "", err
				}
				days := int(math.Abs(d2.Sub(d1).Hours()) / 24)
				return fmt.Sprintf("%d days", days), nil
			},
		},
		{
			Plugin: p, Name: "add_days", Description: "Add days to a date string",
			Params: plugin.Schema{
				dateParam,
				{Name: "days", Type: plugin.TypeInteger, Required: true, Description: "Number of days to add (can be negative)"},
			},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				d, err := parseDate(args.String("date_string"))
				if err != nil {
					return "", err
				}
				days := args.Int("days")
				if days > maxDayOffset || days < -maxDayOffset {
					return "", fmt.Errorf("days must be within ±%d", maxDayOffset)
				}
				return d.AddDate(0, 0, days).Format(time.RFC3339), nil
			},
		},
		{
			Plugin: p, Name: "day_of_week", Description: "Get day of week for a date (defaults to today)",
			Params: plugin.Schema{{Name: "date_string", Type: plugin.TypeString, Description: "Date string; today when omitted"}},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				d := t.now()
				if s := strings.TrimSpace(args.String("date_string")); s != "" {
					parsed, err := parseDate(s)
					if err != nil {
						return "", err
					}
					d = parsed
				}
				return d.Weekday().String(), nil
			},
		},
		{
			Plugin: p, Name: "format_date", Description: "Format a date string using a strftime format string",
			Params: plugin.Schema{
				dateParam,
				{Name: "format_string", Type: plugin.TypeString, Required: true, Description: "strftime format, e.g. '%B %d, %Y'"},
			},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				d, err := parseDate(args.String("date_string"))
				if err != nil {
					return "", err
				}
				return strftime(d, args.String("format_string")), nil
			},
		},
		{
			Plugin: p, Name: "next_cron", Description: "List the next run times of a cron expression",
			Params: plugin.Schema{
				{Name: "expression", Type: plugin.TypeString, Required: true, Description: "Cron expression, e.g. '0 9 * * MON'"},
				{Name: "count", Type: plugin.TypeInteger, Default: 1},
			},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				expr, err := cronexpr.Parse(args.String("expression"))
				if err != nil {
					return "", fmt.Errorf("invalid cron expression: %v", err)
				}
				n := args.Int("count")
				if n < 1 {
					n = 1
				}
				if n > 20 {
					n = 20
				}
				runs := expr.NextN(t.now(), uint(n))
				if len(runs) == 0 {
					return "", fmt.Errorf("cron expression %q never fires", args.String("expression"))
				}
				out := make([]string, len(runs))
				for i, r := range runs {
					out[i] = r.UTC().Format(time.RFC3339)
				}
				return strings.Join(out, "\n"), nil
			},
		},
	}
}

var strftimeDirectives = map[byte]string{
	'Y': "2006", 'y': "06", 'm': "01", 'd': "02", 'e': "_2",
	'H': "15", 'I': "03", 'M': "04", 'S': "05", 'p': "PM",
	'B': "January", 'b': "Jan", 'h': "Jan", 'A': "Monday", 'a': "Mon",
	'Z': "MST", 'z': "-0700", 'F': "2006-01-02", 'T': "15:04:05", 'D': "01/02/06",
}

// strftime renders d using C-style directives. Unknown directives are kept verbatim.
func strftime(d time.Time, format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			b.WriteByte(c)
			continue
		}
		i++
		switch dir := format[i]; dir {
		case '%':
			b.WriteByte('%')
		case 'j':
			fmt.Fprintf(&b, "%03d", d.YearDay())
		case 'w':
			b.WriteString(strconv.Itoa(int(d.Weekday())))
		default:
			if layout, ok := strftimeDirectives[dir]; ok {
				b.WriteString(d.Format(layout))
			} else {
				b.WriteByte('%')
				b.WriteByte(dir)
			}
		}
	}
	return b.String()
}
