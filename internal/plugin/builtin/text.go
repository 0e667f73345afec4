package builtin

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TextInfo describes the Text plugin.
var TextInfo = plugin.Info{
	Name:        "Text",
	Description: "Provides text manipulation and analysis capabilities",
	Version:     "1.0.0",
}

var (
	emailRe   = regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`)
	urlRe     = regexp.MustCompile(`https?://[^\s<>"'()]+`)
	phoneRe   = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b|\(\d{3}\)\s*\d{3}[-.]?\d{4}`)
	specialRe = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
	sentRe    = regexp.MustCompile(`[.!?]+`)
)

var hashers = map[string]func([]byte) []byte{
	"md5":         func(b []byte) []byte { s := md5.Sum(b); return s[:] },
	"sha1":        func(b []byte) []byte { s := sha1.Sum(b); return s[:] },
	"sha256":      func(b []byte) []byte { s := sha256.Sum256(b); return s[:] },
	"sha512":      func(b []byte) []byte { s := sha512.Sum512(b); return s[:] },
	"sha3-256":    func(b []byte) []byte { s := sha3.Sum256(b); return s[:] },
	"sha3-512":    func(b []byte) []byte { s := sha3.Sum512(b); return s[:] },
	"blake2b-256": func(b []byte) []byte { s := blake2b.Sum256(b); return s[:] },
	"blake2b-512": func(b []byte) []byte { s := blake2b.Sum512(b); return s[:] },
}

var stripPolicy = bluemonday.StrictPolicy()

// Text implements string utilities.
type Text struct{}

func textFn(name, desc string, fn func(string) string) plugin.Descriptor {
	return plugin.Descriptor{
		Plugin: "Text", Name: name, Description: desc,
		Params: plugin.Schema{{Name: "text", Type: plugin.TypeString, Required: true}},
		Handler: func(_ context.Context, args plugin.Args) (string, error) {
			return fn(args.String("text")), nil
		},
	}
}

func joinMatches(matches []string, none string) string {
	if len(matches) == 0 {
		return none
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return strings.Join(out, "; ")
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func sentences(text string) []string {
	var out []string
	for _, s := range sentRe.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Descriptors lists the Text functions.
func (Text) Descriptors() []plugin.Descriptor {
	const p = "Text"
	textParam := plugin.Param{Name: "text", Type: plugin.TypeString, Required: true}
	return []plugin.Descriptor{
		textFn("to_upper", "Convert text to uppercase", strings.ToUpper),
		textFn("to_lower", "Convert text to lowercase", strings.ToLower),
		textFn("capitalize", "Capitalize the first letter of each word", func(s string) string {
			return cases.Title(language.Und).String(s)
		}),
		textFn("reverse", "Reverse the text", reverse),
		textFn("word_count", "Count the number of words in text", func(s string) string {
			return strconv.Itoa(len(strings.Fields(s)))
		}),
		textFn("char_count", "Count the number of characters in text", func(s string) string {
			return strconv.Itoa(utf8.RuneCountInString(s))
		}),
		textFn("char_count_no_spaces", "Count the number of characters excluding spaces", func(s string) string {
			return strconv.Itoa(utf8.RuneCountInString(strings.ReplaceAll(s, " ", "")))
		}),
		textFn("extract_emails", "Extract all email addresses from text", func(s string) string {
			return joinMatches(emailRe.FindAllString(s, -1), "No emails found")
		}),
		textFn("extract_urls", "Extract all URLs from text", func(s string) string {
			return joinMatches(urlRe.FindAllString(s, -1), "No URLs found")
		}),
		textFn("extract_phones", "Extract all phone numbers from text", func(s string) string {
			return joinMatches(phoneRe.FindAllString(s, -1), "No phone numbers found")
		}),
		{
			Plugin: p, Name: "hash_text", Description: "Generate a hash of the text (md5, sha1, sha256, sha512, sha3-256, sha3-512, blake2b-256, blake2b-512)",
			Params: plugin.Schema{textParam, {Name: "algorithm", Type: plugin.TypeString, Default: "sha256"}},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				h, ok := hashers[strings.ToLower(strings.TrimSpace(args.String("algorithm")))]
				if !ok {
					h = hashers["sha256"]
				}
				return hex.EncodeToString(h([]byte(args.String("text")))), nil
			},
		},
		textFn("normalize_whitespace", "Remove extra whitespace from text", func(s string) string {
			return strings.Join(strings.Fields(s), " ")
		}),
		textFn("remove_special_chars", "Remove all special characters from text", func(s string) string {
			return specialRe.ReplaceAllString(s, "")
		}),
		{
			Plugin: p, Name: "contains_word", Description: "Check if text contains a specific word",
			Params: plugin.Schema{textParam, {Name: "word", Type: plugin.TypeString, Required: true}},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				word := args.String("word")
				re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
				if err != nil {
					return "", err
				}
				if re.MatchString(args.String("text")) {
					return fmt.Sprintf("Yes, '%s' found in text", word), nil
				}
				return fmt.Sprintf("No, '%s' not found in text", word), nil
			},
		},
		{
			Plugin: p, Name: "find_replace", Description: "Find and replace text",
			Params: plugin.Schema{
				textParam,
				{Name: "find", Type: plugin.TypeString, Required: true},
				{Name: "replace", Type: plugin.TypeString, Required: true},
			},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				if args.String("find") == "" {
					return args.String("text"), nil
				}
				return strings.ReplaceAll(args.String("text"), args.String("find"), args.String("replace")), nil
			},
		},
		{
			Plugin: p, Name: "chunk_text", Description: "Split text into chunks of specified size",
			Params: plugin.Schema{textParam, {Name: "chunk_size", Type: plugin.TypeInteger, Default: 100}},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				return strings.Join(chunk(args.String("text"), args.Int("chunk_size")), "\n\n--- Chunk Boundary ---\n\n"), nil
			},
		},
		{
			Plugin: p, Name: "truncate", Description: "Truncate text to a maximum length",
			Params: plugin.Schema{
				textParam,
				{Name: "max_length", Type: plugin.TypeInteger, Required: true},
				{Name: "add_ellipsis", Type: plugin.TypeBoolean, Default: true},
			},
			Handler: func(_ context.Context, args plugin.Args) (string, error) {
				n := args.Int("max_length")
				if n < 0 {
					return "", fmt.Errorf("max_length must not be negative")
				}
				return truncate(args.String("text"), n, args.Bool("add_ellipsis")), nil
			},
		},
		textFn("extract_summary", "Generate a summary by extracting the first and last sentences", func(s string) string {
			parts := sentences(s)
			if len(parts) <= 2 {
				return strings.TrimSpace(s)
			}
			return fmt.Sprintf("Summary: %s. ... %s.", parts[0], parts[len(parts)-1])
		}),
		textFn("readability_score", "Calculate the readability score (approximate)", readabilityScore),
		textFn("strip_html", "Remove HTML tags from text", func(s string) string {
			return strings.Join(strings.Fields(html.UnescapeString(stripPolicy.Sanitize(s))), " ")
		}),
	}
}

func chunk(text string, size int) []string {
	if size <= 0 {
		size = 100
	}
	var chunks, current []string
	for _, w := range strings.Fields(text) {
		current = append(current, w)
		if len(strings.Join(current, " ")) >= size {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

func truncate(text string, max int, ellipsis bool) string {
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	if ellipsis && max > 3 {
		return string(r[:max-3]) + "..."
	}
	return string(r[:max])
}

func readabilityScore(text string) string {
	sents := sentences(text)
	words := strings.Fields(text)
	if len(sents) == 0 || len(words) == 0 {
		return "Unable to calculate score"
	}
	long := 0
	for _, w := range words {
		if utf8.RuneCountInString(w) > 6 {
			long++
		}
	}
	avg := float64(len(words)) / float64(len(sents))
	score := 206.835 - 1.015*avg - 84.6*(float64(long)/float64(len(words)))
	level := "Professional/Graduate level"
	switch {
	case score > 90:
		level = "5th grade"
	case score > 80:
		level = "6th grade"
	case score > 70:
		level = "7th grade"
	case score > 60:
		level = "8th-9th grade"
	case score > 50:
		level = "10th-12th grade"
	case score > 30:
		level = "College level"
	}
	return fmt.Sprintf("Readability: %s (Score: %.1f)", level, score)
}
