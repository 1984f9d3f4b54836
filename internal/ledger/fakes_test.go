package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var (
	day1 = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
	day3 = day1.AddDate(0, 0, 2)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// memState is the committed content of memRepo.
type memState struct {
	clients map[int64]Client
	stock   map[int64][]StockRecord
	cash    map[int64][]CashRecord
	nextID  int64
	nextSeq int64
}

func (s memState) clone() memState {
	cp := memState{
		clients: make(map[int64]Client, len(s.clients)),
		stock:   make(map[int64][]StockRecord, len(s.stock)),
		cash:    make(map[int64][]CashRecord, len(s.cash)),
		nextID:  s.nextID,
		nextSeq: s.nextSeq,
	}
	for k, v := range s.clients {
		cp.clients[k] = v
	}
	for k, v := range s.stock {
		cp.stock[k] = append([]StockRecord(nil), v...)
	}
	for k, v := range s.cash {
		cp.cash[k] = append([]CashRecord(nil), v...)
	}
	return cp
}

// memRepo is an in-memory RepositoryPort. Transactions run one at a time against a copy
// of the state, which replaces the committed state only when fn succeeds.
type memRepo struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	state memState

	txCount int
	// onList runs inside the transaction after the record lists were read.
	onList func(clientID int64)
	// listErr, when set, fails ListCashRecords.
	listErr error
}

func newMemRepo(ids ...int64) *memRepo {
	r := &memRepo{state: memState{
		clients: map[int64]Client{},
		stock:   map[int64][]StockRecord{},
		cash:    map[int64][]CashRecord{},
	}}
	for _, id := range ids {
		r.state.clients[id] = Client{ID: id, Name: "Client", Role: RoleCustomer, CurrentBalance: decimal.Zero}
	}
	return r
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	r.mu.Lock()
	work := r.state.clone()
	r.txCount++
	r.mu.Unlock()

	if err := fn(ctx, &memTx{repo: r, state: &work}); err != nil {
		return err
	}
	r.mu.Lock()
	r.state = work
	r.mu.Unlock()
	return nil
}

func (r *memRepo) GetClient(_ context.Context, clientID int64) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.state.clients[clientID]
	if !ok {
		return Client{}, shared.NotFound("client", clientID).WithClient(clientID)
	}
	return c, nil
}

func (r *memRepo) ListClientIDs(context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.state.clients))
	for id := range r.state.clients {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *memRepo) client(id int64) Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clients[id]
}

// setBalance overwrites the stored balance without touching the version.
func (r *memRepo) setBalance(id int64, balance decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.state.clients[id]
	c.CurrentBalance = balance
	r.state.clients[id] = c
}

type memTx struct {
	repo  *memRepo
	state *memState
}

func (t *memTx) LockClient(_ context.Context, clientID int64) (Client, error) {
	c, ok := t.state.clients[clientID]
	if !ok {
		return Client{}, shared.NotFound("client", clientID).WithClient(clientID)
	}
	return c, nil
}

func (t *memTx) ListStockRecords(_ context.Context, clientID int64) ([]StockRecord, error) {
	return append([]StockRecord(nil), t.state.stock[clientID]...), nil
}

func (t *memTx) ListCashRecords(_ context.Context, clientID int64) ([]CashRecord, error) {
	if t.repo.listErr != nil {
		return nil, t.repo.listErr
	}
	out := append([]CashRecord(nil), t.state.cash[clientID]...)
	if t.repo.onList != nil {
		t.repo.onList(clientID)
	}
	return out, nil
}

func (t *memTx) SaveStockRecord(_ context.Context, rec *StockRecord) error {
	if rec.ID == 0 {
		t.state.nextID++
		t.state.nextSeq++
		rec.ID, rec.Seq = t.state.nextID, t.state.nextSeq
		t.state.stock[rec.ClientID] = append(t.state.stock[rec.ClientID], *rec)
		return nil
	}
	recs := t.state.stock[rec.ClientID]
	for i := range recs {
		if recs[i].ID == rec.ID {
			rec.Seq = recs[i].Seq
			recs[i] = *rec
			return nil
		}
	}
	return shared.NotFound("stock record", rec.ID).WithClient(rec.ClientID)
}

func (t *memTx) SaveCashRecord(_ context.Context, rec *CashRecord) error {
	if rec.ID == 0 {
		t.state.nextID++
		t.state.nextSeq++
		rec.ID, rec.Seq = t.state.nextID, t.state.nextSeq
		t.state.cash[rec.ClientID] = append(t.state.cash[rec.ClientID], *rec)
		return nil
	}
	recs := t.state.cash[rec.ClientID]
	for i := range recs {
		if recs[i].ID == rec.ID {
			rec.Seq = recs[i].Seq
			recs[i] = *rec
			return nil
		}
	}
	return shared.NotFound("cash record", rec.ID).WithClient(rec.ClientID)
}

func (t *memTx) DeleteStockRecord(_ context.Context, clientID, id int64) error {
	recs := t.state.stock[clientID]
	for i := range recs {
		if recs[i].ID == id {
			t.state.stock[clientID] = append(recs[:i:i], recs[i+1:]...)
			return nil
		}
	}
	return shared.NotFound("stock record", id).WithClient(clientID)
}

func (t *memTx) DeleteCashRecord(_ context.Context, clientID, id int64) error {
	recs := t.state.cash[clientID]
	for i := range recs {
		if recs[i].ID == id {
			t.state.cash[clientID] = append(recs[:i:i], recs[i+1:]...)
			return nil
		}
	}
	return shared.NotFound("cash record", id).WithClient(clientID)
}

func (t *memTx) CommitBalance(_ context.Context, clientID int64, balance decimal.Decimal, prev, next int64) error {
	c := t.state.clients[clientID]
	if c.LedgerVersion != prev {
		return shared.Conflictf(clientID, "ledger version %d already replaced", prev)
	}
	c.CurrentBalance = balance
	c.LedgerVersion = next
	t.state.clients[clientID] = c
	return nil
}

// scenarioRecords are the three movements of the reference statement: a sale of 500,
// cash received 200 and a purchase of 200.
func scenarioRecords(clientID int64) ([]StockRecord, []CashRecord) {
	stock := []StockRecord{
		{ID: 1, ClientID: clientID, Seq: 1, Direction: DirectionOut, ProductName: "Rice", Quantity: dec("10"), Unit: "kg", Rate: dec("50"), Date: day1},
		{ID: 3, ClientID: clientID, Seq: 3, Direction: DirectionIn, ProductName: "Wheat", Quantity: dec("5"), Unit: "kg", Rate: dec("40"), Date: day3},
	}
	cash := []CashRecord{
		{ID: 2, ClientID: clientID, Seq: 2, Direction: DirectionIn, Amount: dec("200"), PaymentMode: "UPI", Date: day2},
	}
	return stock, cash
}

func seedScenario(t *testing.T, c *Coordinator, clientID int64) (saleID, cashID, purchaseID int64) {
	t.Helper()
	ctx := context.Background()
	_, ref, err := c.Mutate(ctx, clientID, SaveStock(StockRecord{Direction: DirectionOut, ProductName: "Rice", Quantity: dec("10"), Unit: "kg", Rate: dec("50"), Date: day1}))
	require.NoError(t, err)
	saleID = ref.ID
	_, ref, err = c.Mutate(ctx, clientID, SaveCash(CashRecord{Direction: DirectionIn, Amount: dec("200"), PaymentMode: "UPI", Date: day2}))
	require.NoError(t, err)
	cashID = ref.ID
	_, ref, err = c.Mutate(ctx, clientID, SaveStock(StockRecord{Direction: DirectionIn, ProductName: "Wheat", Quantity: dec("5"), Unit: "kg", Rate: dec("40"), Date: day3}))
	require.NoError(t, err)
	purchaseID = ref.ID
	return saleID, cashID, purchaseID
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (f *fakeAudit) Record(_ context.Context, e AuditEntry) error {
	f.mu.Lock()
	f.entries = append(f.entries, e)
	f.mu.Unlock()
	return nil
}
