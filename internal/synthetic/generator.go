package synthetic

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/mbd888/secureflow/internal/scoring"
)

// Merchant is one catalog entry.
type Merchant struct {
	ID       string
	Name     string
	Category string
}

// Merchants is the fixed merchant catalog.
var Merchants = []Merchant{
	{ID: "M001", Name: "Amazon", Category: "retail"},
	{ID: "M002", Name: "Starbucks", Category: "food"},
	{ID: "M003", Name: "Shell", Category: "fuel"},
	{ID: "M004", Name: "Walmart", Category: "retail"},
	{ID: "M005", Name: "Netflix", Category: "entertainment"},
	{ID: "M006", Name: "Uber", Category: "transport"},
	{ID: "M007", Name: "Best Buy", Category: "electronics"},
	{ID: "M008", Name: "McDonald's", Category: "food"},
	{ID: "M009", Name: "Apple", Category: "electronics"},
	{ID: "M010", Name: "Target", Category: "retail"},
}

// Countries are the home countries of normal traffic.
var Countries = []string{"US", "CA", "GB", "DE", "FR", "MX", "BR", "IN", "JP", "AU"}

// Currencies is the accepted currency set; the first entry is used for all
// generated traffic.
var Currencies = []string{"USD", "EUR", "GBP", "CAD"}

// ForeignCountry is the fixed country of injected patterns. Users get their
// home country from earlier normal traffic, so this trips the geo signal.
const ForeignCountry = "JP"

// UserPool is the number of distinct synthetic users and devices.
const UserPool = 20

// TimestampLayout is ISO-8601 UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

type amountRange struct{ min, max float64 }

var (
	highAmountRange = amountRange{1200, 3700}
	newCountryRange = amountRange{20, 100}
	normalRange     = amountRange{10, 160}
)

// Generator builds synthetic transactions. It owns the counter that cycles
// user and device ids, so separate generators never share state.
type Generator struct {
	mu      sync.Mutex
	src     Source
	counter uint64
	now     func() time.Time
	idFunc  func() string
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithClock sets the clock used for transaction timestamps.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		g.now = now
	}
}

// WithTransactionIDs makes the generator assign client transaction ids.
func WithTransactionIDs(next func() string) GeneratorOption {
	return func(g *Generator) {
		g.idFunc = next
	}
}

// NewGenerator creates a generator whose counter starts at start.
func NewGenerator(src Source, start uint64, opts ...GeneratorOption) *Generator {
	g := &Generator{
		src:     src,
		counter: start,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Counter returns the number of the last generated transaction.
func (g *Generator) Counter() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counter
}

// Next builds one transaction shaped by pattern.
func (g *Generator) Next(pattern Pattern) scoring.TransactionPayload {
	g.mu.Lock()
	g.counter++
	userNum := g.counter%UserPool + 1
	g.mu.Unlock()

	merchant := Merchants[g.src.IntN(len(Merchants))]

	var amount float64
	var country string
	switch pattern {
	case PatternHighAmount:
		amount = g.draw(highAmountRange)
		country = ForeignCountry
	case PatternNewCountry:
		amount = g.draw(newCountryRange)
		country = ForeignCountry
	default:
		amount = g.draw(normalRange)
		country = Countries[g.src.IntN(len(Countries))]
	}

	n := strconv.FormatUint(userNum, 10)
	userID := "user_" + n
	deviceID := "dev_" + n

	p := scoring.TransactionPayload{
		Amount:           roundCents(amount),
		Currency:         Currencies[0],
		MerchantID:       merchant.ID,
		MerchantCategory: merchant.Category,
		Country:          country,
		Timestamp:        g.now().UTC().Format(TimestampLayout),
		UserID:           &userID,
		DeviceID:         &deviceID,
	}
	if g.idFunc != nil {
		id := g.idFunc()
		p.TransactionID = &id
	}
	return p
}

func (g *Generator) draw(r amountRange) float64 {
	return r.min + g.src.Float64()*(r.max-r.min)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
