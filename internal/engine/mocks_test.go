package engine

import (
	"context"
	"sync"
	"time"

	"github.com/quillon/receiptwise/internal/model"
	"github.com/quillon/receiptwise/internal/service"
)

// mockLedger is an in-memory ledger for engine tests. All mutation counters
// are guarded because channel workers run concurrently.
type mockLedger struct {
	mu                sync.Mutex
	transactions      []model.Transaction
	categories        []model.Category
	memoUpdates       map[string]string
	categoryUpdates   map[string]string
	splits            map[string][]model.SplitPart
	replaced          map[string]model.Transaction
	writes            int
	blockCategories   chan struct{}
	enteredCategories chan struct{}
	enteredOnce       sync.Once
}

func newMockLedger(categories ...string) *mockLedger {
	m := &mockLedger{
		memoUpdates:     make(map[string]string),
		categoryUpdates: make(map[string]string),
		splits:          make(map[string][]model.SplitPart),
		replaced:        make(map[string]model.Transaction),
	}
	for _, name := range categories {
		m.categories = append(m.categories, model.Category{Name: name})
	}
	return m
}

func (m *mockLedger) GetTransactions(_ context.Context, payeeFilter string, _ time.Time) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Transaction
	for _, txn := range m.transactions {
		if payeeFilter == "" || containsFold(txn.Payee, payeeFilter) {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (m *mockLedger) GetCategories(_ context.Context) ([]model.Category, error) {
	if m.blockCategories != nil {
		m.enteredOnce.Do(func() { close(m.enteredCategories) })
		<-m.blockCategories
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.categories, nil
}

func (m *mockLedger) UpdateMemo(_ context.Context, transactionID, memo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memoUpdates[transactionID] = memo
	m.writes++
	return nil
}

func (m *mockLedger) UpdateCategory(_ context.Context, transactionID, category, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categoryUpdates[transactionID] = category
	m.writes++
	return nil
}

func (m *mockLedger) ApplySplit(_ context.Context, transactionID string, parts []model.SplitPart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.splits[transactionID] = parts
	m.writes++
	return nil
}

func (m *mockLedger) ReplaceTransaction(_ context.Context, txn model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaced[txn.ID] = txn
	m.writes++
	return nil
}

func (m *mockLedger) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func containsFold(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			a, b := s[i+j], substr[j]
			if 'A' <= a && a <= 'Z' {
				a += 'a' - 'A'
			}
			if 'A' <= b && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// mockReceipts serves canned receipts per channel.
type mockReceipts struct {
	byChannel map[model.Channel][]model.Receipt
}

func newMockReceipts() *mockReceipts {
	return &mockReceipts{byChannel: make(map[model.Channel][]model.Receipt)}
}

func (m *mockReceipts) add(channel model.Channel, receipt model.Receipt) {
	receipt.Channel = channel
	m.byChannel[channel] = append(m.byChannel[channel], receipt)
}

func (m *mockReceipts) FetchReceipts(_ context.Context, channel model.Channel, _ time.Time) ([]model.Receipt, error) {
	return m.byChannel[channel], nil
}

// mockOracle answers by title lookup.
type mockOracle struct {
	mu      sync.Mutex
	answers map[string]service.OracleResult
	calls   int
}

func newMockOracle() *mockOracle {
	return &mockOracle{answers: make(map[string]service.OracleResult)}
}

func (m *mockOracle) answer(title, category string, confidence float64) {
	m.answers[title] = service.OracleResult{Category: category, Confidence: confidence}
}

func (m *mockOracle) ClassifyItem(_ context.Context, req service.OracleRequest) (service.OracleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.answers[req.Title], nil
}

// mockMessenger records outbound messages.
type mockMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (m *mockMessenger) Send(_ context.Context, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return "msg-1", nil
}

func (m *mockMessenger) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}
