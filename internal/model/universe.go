package model

import "fmt"

// Symbol is a tradable asset code with its display name.
type Symbol struct {
	Code string `yaml:"code" json:"code" validate:"required,uppercase"`
	Name string `yaml:"name" json:"name" validate:"required"`
}

// Universe is the fixed, ordered set of symbols the engine serves.
// It is built once at startup and passed to every component that needs it.
type Universe struct {
	symbols []Symbol
	index   map[string]int
}

// DefaultSymbols is the standard analytics universe.
var DefaultSymbols = []Symbol{
	{Code: "BTC", Name: "Bitcoin"},
	{Code: "ETH", Name: "Ethereum"},
	{Code: "LTC", Name: "Litecoin"},
	{Code: "BCH", Name: "Bitcoin Cash"},
	{Code: "DOGE", Name: "Dogecoin"},
}

// NewUniverse validates and indexes symbols. Codes must be unique.
func NewUniverse(symbols []Symbol) (*Universe, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("universe: no symbols")
	}
	u := &Universe{
		symbols: make([]Symbol, len(symbols)),
		index:   make(map[string]int, len(symbols)),
	}
	copy(u.symbols, symbols)
	for i, s := range symbols {
		if s.Code == "" {
			return nil, fmt.Errorf("universe: symbol %d has empty code", i)
		}
		if _, dup := u.index[s.Code]; dup {
			return nil, fmt.Errorf("universe: duplicate symbol %q", s.Code)
		}
		u.index[s.Code] = i
	}
	return u, nil
}

// Symbols returns a copy of the ordered symbol list.
func (u *Universe) Symbols() []Symbol {
	out := make([]Symbol, len(u.symbols))
	copy(out, u.symbols)
	return out
}

// Codes returns the ordered symbol codes.
func (u *Universe) Codes() []string {
	out := make([]string, len(u.symbols))
	for i, s := range u.symbols {
		out[i] = s.Code
	}
	return out
}

// Name returns the display name for code, or "" if unknown.
func (u *Universe) Name(code string) string {
	if i, ok := u.index[code]; ok {
		return u.symbols[i].Name
	}
	return ""
}

func (u *Universe) Contains(code string) bool {
	_, ok := u.index[code]
	return ok
}

func (u *Universe) Len() int { return len(u.symbols) }

// String returns the codes joined by commas, the form the feed API expects.
func (u *Universe) String() string {
	s := ""
	for i, sym := range u.symbols {
		if i > 0 {
			s += ","
		}
		s += sym.Code
	}
	return s
}
