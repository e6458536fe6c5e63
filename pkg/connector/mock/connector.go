package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/de-tools/cost-atlas/pkg/connector"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
)

// rawServices are provider-native service names the mock bills under.
var rawServices = map[domain.Provider][]string{
	domain.ProviderAWS:   {"Amazon Elastic Compute Cloud - Compute", "Amazon Simple Storage Service", "AWS Lambda"},
	domain.ProviderGCP:   {"Compute Engine", "Cloud Storage", "BigQuery"},
	domain.ProviderAzure: {"Virtual Machines", "Storage", "Azure Functions"},
}

var regions = map[domain.Provider]string{
	domain.ProviderAWS:   "us-east-1",
	domain.ProviderGCP:   "us-central1",
	domain.ProviderAzure: "EastUS",
}

// Connector returns deterministic synthetic billing rows. Probe outcome and
// fetch errors are adjustable at runtime.
type Connector struct {
	provider domain.Provider

	mu        sync.Mutex
	failStage connector.Stage
	fetchErr  error
	items     func(account domain.ProviderAccount, start, end time.Time) []domain.RawLineItem
	delay     time.Duration

	fetchCalls atomic.Int64
	testCalls  atomic.Int64
}

var _ connector.Connector = (*Connector)(nil)

func New(provider domain.Provider) *Connector {
	return &Connector{provider: provider}
}

// FailAt makes TestConnection fail at stage. StageOK or "" restores success.
func (c *Connector) FailAt(stage connector.Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failStage = stage
}

func (c *Connector) SetFetchError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchErr = err
}

// SetItems replaces the synthetic generator.
func (c *Connector) SetItems(fn func(account domain.ProviderAccount, start, end time.Time) []domain.RawLineItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = fn
}

// SetDelay makes every call block for d or until the context ends.
func (c *Connector) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

func (c *Connector) FetchCalls() int { return int(c.fetchCalls.Load()) }
func (c *Connector) TestCalls() int  { return int(c.testCalls.Load()) }

func (c *Connector) wait(ctx context.Context) error {
	c.mu.Lock()
	d := c.delay
	c.mu.Unlock()
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Connector) FetchCostAndUsage(
	ctx context.Context,
	account domain.ProviderAccount,
	start, end time.Time,
) ([]domain.RawLineItem, error) {
	c.fetchCalls.Add(1)
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	fetchErr, items := c.fetchErr, c.items
	c.mu.Unlock()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if items != nil {
		return items(account, start, end), nil
	}
	return c.synthetic(account, start, end), nil
}

func (c *Connector) synthetic(account domain.ProviderAccount, start, end time.Time) []domain.RawLineItem {
	var out []domain.RawLineItem
	p := domain.Period{Start: domain.Day(start), End: domain.Day(end)}
	p.EachDay(func(day time.Time) {
		date := day.Format(domain.DateLayout)
		for _, svc := range rawServices[c.provider] {
			cents := amountCents(account.ID, svc, date)
			out = append(out, domain.RawLineItem{
				Provider:      c.provider,
				AccountID:     account.ID,
				Service:       svc,
				Region:        regions[c.provider],
				UsageDate:     date,
				Amount:        strconv.FormatFloat(float64(cents)/100, 'f', 2, 64),
				Currency:      "USD",
				UsageQuantity: strconv.FormatUint(cents%97+1, 10),
				UsageUnit:     "Hrs",
				Raw:           []byte(fmt.Sprintf(`{"service":%q,"date":%q,"cents":%d}`, svc, date, cents)),
			})
		}
	})
	return out
}

// amountCents is a stable pseudo-random amount between 1.00 and 100.99.
func amountCents(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return 100 + h.Sum64()%10000
}

func (c *Connector) TestConnection(ctx context.Context, account domain.ProviderAccount) (bool, connector.Diagnostic) {
	c.testCalls.Add(1)
	if err := c.wait(ctx); err != nil {
		return false, connector.Diagnostic{Stage: connector.StageAssumeRole, Message: err.Error()}
	}

	c.mu.Lock()
	stage := c.failStage
	c.mu.Unlock()

	switch stage {
	case "", connector.StageOK:
		return true, connector.OK(fmt.Sprintf("mock %s account %s reachable", c.provider, account.ExternalAccountID))
	default:
		return false, connector.Diagnostic{Stage: stage, Message: fmt.Sprintf("mock failure at %s", stage)}
	}
}
