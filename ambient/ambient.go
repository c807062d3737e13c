// Package ambient builds small locale context blocks and audits model output
// for text copied from them.
package ambient

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Header is the first line of every block.
const Header = "Ambient Context (localization only; do not cite):"

// DefaultBudget is the default maximum block length in characters.
const DefaultBudget = 350

var (
	// ErrBudgetExceeded is returned when a block does not fit even without
	// its optional lines.
	ErrBudgetExceeded = errors.New("ambient block exceeds budget")
	// ErrUnknownLocale is returned for locale codes missing from the pack.
	ErrUnknownLocale = errors.New("unknown locale")
)

//go:embed locales.yaml
var defaultLocales []byte

// Locale holds the civic signals for one country.
type Locale struct {
	Code     string   `yaml:"code"`
	Name     string   `yaml:"name"`
	Timezone string   `yaml:"timezone"`
	Civic    []string `yaml:"civic"`
	Formats  []string `yaml:"formats"`
	Weather  []string `yaml:"weather"`

	loc *time.Location
}

// LoadLocales parses a YAML locale pack.
func LoadLocales(data []byte) ([]Locale, error) {
	var pack struct {
		Locales []Locale `yaml:"locales"`
	}
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("decoding locale pack: %w", err)
	}
	for i := range pack.Locales {
		l := &pack.Locales[i]
		l.Code = strings.ToUpper(strings.TrimSpace(l.Code))
		if l.Code == "" {
			return nil, fmt.Errorf("locale %d: code is required", i)
		}
		if len(l.Civic) == 0 || len(l.Formats) == 0 {
			return nil, fmt.Errorf("locale %s: civic and formats are required", l.Code)
		}
		loc, err := time.LoadLocation(l.Timezone)
		if err != nil {
			return nil, fmt.Errorf("locale %s: %w", l.Code, err)
		}
		l.loc = loc
	}
	return pack.Locales, nil
}

// DefaultLocales returns the embedded locale pack.
func DefaultLocales() []Locale {
	locales, err := LoadLocales(defaultLocales)
	if err != nil {
		panic(fmt.Sprintf("ambient: embedded locale pack: %v", err))
	}
	return locales
}

// Block is one rendered ambient context block.
type Block struct {
	Locale string
	Text   string
	// WeatherDropped is set when the weather line was omitted for budget.
	WeatherDropped bool
}

// Len returns the block length in characters.
func (b Block) Len() int {
	return utf8.RuneCountInString(b.Text)
}

// Builder renders blocks. It is safe for concurrent use.
type Builder struct {
	locales map[string]Locale
	budget  int
	weather bool
	now     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Builder.
type Option func(*Builder)

// WithBudget sets the character budget.
func WithBudget(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.budget = n
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithSeed makes phrase selection reproducible.
func WithSeed(seed uint64) Option {
	return func(b *Builder) {
		b.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithWeather enables or disables the optional weather line.
func WithWeather(enabled bool) Option {
	return func(b *Builder) {
		b.weather = enabled
	}
}

// WithLocales replaces the embedded pack.
func WithLocales(locales []Locale) Option {
	return func(b *Builder) {
		b.locales = indexLocales(locales)
	}
}

// NewBuilder creates a Builder using the embedded pack unless WithLocales is
// given.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		budget:  DefaultBudget,
		weather: true,
		now:     time.Now,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.locales == nil {
		b.locales = indexLocales(DefaultLocales())
	}
	return b
}

func indexLocales(locales []Locale) map[string]Locale {
	m := make(map[string]Locale, len(locales))
	for _, l := range locales {
		if l.loc == nil {
			l.loc = time.UTC
		}
		m[strings.ToUpper(l.Code)] = l
	}
	return m
}

// Codes returns the supported locale codes, sorted.
func (b *Builder) Codes() []string {
	codes := make([]string, 0, len(b.locales))
	for c := range b.locales {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Budget returns the configured budget.
func (b *Builder) Budget() int {
	return b.budget
}

// Build renders a block for the locale code. The weather line is dropped
// first when the block would exceed the budget.
func (b *Builder) Build(code string) (Block, error) {
	l, ok := b.locales[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Block{}, fmt.Errorf("%w: %q", ErrUnknownLocale, code)
	}

	b.mu.Lock()
	civic := l.Civic[b.rng.IntN(len(l.Civic))]
	format := l.Formats[b.rng.IntN(len(l.Formats))]
	weather := ""
	if b.weather && len(l.Weather) > 0 {
		weather = l.Weather[b.rng.IntN(len(l.Weather))]
	}
	b.mu.Unlock()

	now := b.now().In(l.loc)
	lines := []string{
		Header,
		"- " + now.Format("2006-01-02 15:04") + ", " + now.Format("MST") + " (UTC" + now.Format("-07:00") + ")",
		"- " + civic,
		"- " + format,
	}

	block := Block{Locale: l.Code}
	if weather != "" {
		block.Text = strings.Join(append(lines, "- "+weather), "\n")
		if block.Len() <= b.budget {
			return block, nil
		}
		block.WeatherDropped = true
	}

	block.Text = strings.Join(lines, "\n")
	if block.Len() > b.budget {
		return Block{}, fmt.Errorf("%w: %s block is %d characters, budget %d",
			ErrBudgetExceeded, l.Code, block.Len(), b.budget)
	}
	return block, nil
}
