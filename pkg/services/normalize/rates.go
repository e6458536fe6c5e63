package normalize

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/de-tools/cost-atlas/pkg/errkind"
	"gopkg.in/ini.v1"
)

// RateSource returns how many US dollars one unit of currency was worth on day.
type RateSource interface {
	USDRate(currency string, day time.Time) (*apd.Decimal, error)
}

var one = apd.New(1, 0)

// StaticRates is a fixed table with optional per-month overrides.
type StaticRates struct {
	mu      sync.RWMutex
	base    map[string]*apd.Decimal
	monthly map[string]map[string]*apd.Decimal
}

var _ RateSource = (*StaticRates)(nil)

func NewStaticRates(rates map[string]string) (*StaticRates, error) {
	s := &StaticRates{
		base:    map[string]*apd.Decimal{"USD": one},
		monthly: make(map[string]map[string]*apd.Decimal),
	}
	for cur, v := range rates {
		if err := s.set("", cur, v); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// DefaultRates covers the currencies the providers bill in most often.
// Load a rates file for current figures.
func DefaultRates() *StaticRates {
	s, _ := NewStaticRates(map[string]string{
		"EUR": "1.08",
		"GBP": "1.27",
		"JPY": "0.0067",
		"CAD": "0.74",
		"AUD": "0.66",
		"INR": "0.012",
		"BRL": "0.20",
		"CHF": "1.13",
	})
	return s
}

func (s *StaticRates) set(month, currency, value string) error {
	d, _, err := apd.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("rate for %s: %w", currency, err)
	}
	if d.Sign() <= 0 {
		return fmt.Errorf("rate for %s must be positive", currency)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))

	s.mu.Lock()
	defer s.mu.Unlock()
	if month == "" {
		s.base[currency] = d
		return nil
	}
	if s.monthly[month] == nil {
		s.monthly[month] = make(map[string]*apd.Decimal)
	}
	s.monthly[month][currency] = d
	return nil
}

func (s *StaticRates) USDRate(currency string, day time.Time) (*apd.Decimal, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" || currency == "USD" {
		return one, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.monthly[day.UTC().Format("2006-01")][currency]; ok {
		return r, nil
	}
	if r, ok := s.base[currency]; ok {
		return r, nil
	}
	return nil, errkind.New(errkind.InvalidInput, "no exchange rate for %s", currency)
}

// LoadRatesFile reads an INI file of USD rates:
//
//	[usd]
//	EUR = 1.08
//
//	[usd.2024-03]
//	EUR = 1.09
//
// Month sections override [usd] for usage dates in that month.
func LoadRatesFile(path string) (*StaticRates, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("unable to load rates file: %w", err)
	}

	s := DefaultRates()
	for _, section := range f.Sections() {
		name := section.Name()
		var month string
		switch {
		case name == "usd":
		case strings.HasPrefix(name, "usd."):
			month = strings.TrimPrefix(name, "usd.")
			if _, err := time.Parse("2006-01", month); err != nil {
				return nil, fmt.Errorf("rates section %q: month must be YYYY-MM", name)
			}
		default:
			continue
		}
		for _, key := range section.Keys() {
			if err := s.set(month, key.Name(), key.String()); err != nil {
				return nil, fmt.Errorf("rates section %q: %w", name, err)
			}
		}
	}
	return s, nil
}
