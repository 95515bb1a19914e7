package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/branlyclub/branlyclub/internal/database"
	"github.com/branlyclub/branlyclub/internal/model"
)

func setupLedgerTestDB(t *testing.T) (*LedgerStore, *TenantStore, *CustomerStore, *UserStore) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "ledger_test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewLedgerStore(db), NewTenantStore(db), NewCustomerStore(db), NewUserStore(db)
}

const (
	testCPF      = "529.982.247-25"
	testCPFAlt   = "111.444.777-35"
	testPassword = "$2a$10$fakehashfakehashfakehashfakehash"
)

func createTestStore(t *testing.T, ts *TenantStore, us *UserStore, slug string) *model.Store {
	t.Helper()
	owner, err := us.Create(slug+"@example.com", "Owner", testPassword, model.RoleOwner)
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	st, err := ts.Create("Loja "+slug, slug, owner.ID, 1)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return st
}

func createTestCustomer(t *testing.T, cs *CustomerStore, email, doc string) *model.Customer {
	t.Helper()
	c, err := cs.Create("Cliente", email, doc, testPassword)
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return c
}

func TestCreditPending(t *testing.T) {
	ls, ts, _, us := setupLedgerTestDB(t)
	st := createTestStore(t, ts, us, "loja-um")

	entry, err := ls.CreditPending(testCPF, st.ID, 50, "")
	if err != nil {
		t.Fatalf("credit pending: %v", err)
	}
	if entry.CPF != "52998224725" {
		t.Errorf("cpf = %q, want normalized %q", entry.CPF, "52998224725")
	}
	if entry.Amount != 50 {
		t.Errorf("amount = %d, want 50", entry.Amount)
	}
	if entry.Migrated {
		t.Error("new entry must not be migrated")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}

	// Lookup returns the same unmigrated entry.
	entries, err := ls.ListUnmigrated(testCPF)
	if err != nil {
		t.Fatalf("list unmigrated: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ID != entry.ID || entries[0].Amount != 50 {
		t.Errorf("entry = %+v, want id %d amount 50", entries[0], entry.ID)
	}
}

func TestCreditPendingValidation(t *testing.T) {
	ls, ts, _, us := setupLedgerTestDB(t)
	st := createTestStore(t, ts, us, "loja-um")

	cases := []struct {
		name    string
		cpf     string
		storeID int64
		amount  int
	}{
		{"zero amount", testCPF, st.ID, 0},
		{"negative amount", testCPF, st.ID, -10},
		{"empty cpf", "", st.ID, 10},
		{"non-digit cpf", "abc", st.ID, 10},
		{"missing store", testCPF, 0, 10},
	}
	for _, tc := range cases {
		if _, err := ls.CreditPending(tc.cpf, tc.storeID, tc.amount, ""); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", tc.name, err)
		}
	}
}

func TestMigratePendingPoints(t *testing.T) {
	ls, ts, cs, us := setupLedgerTestDB(t)
	s1 := createTestStore(t, ts, us, "loja-s1")
	s2 := createTestStore(t, ts, us, "loja-s2")

	// Credit 50 at S1 and 30 at S2 before the customer exists.
	if _, err := ls.CreditPending(testCPF, s1.ID, 50, ""); err != nil {
		t.Fatalf("credit s1: %v", err)
	}
	if _, err := ls.CreditPending(testCPF, s2.ID, 30, ""); err != nil {
		t.Fatalf("credit s2: %v", err)
	}

	customer := createTestCustomer(t, cs, "cliente@example.com", testCPF)

	res, err := ls.MigratePendingPoints(context.Background(), testCPF, customer.ID)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if res.MigratedCount != 2 {
		t.Errorf("migrated_count = %d, want 2", res.MigratedCount)
	}
	if res.TotalPoints != 80 {
		t.Errorf("total_points = %d, want 80", res.TotalPoints)
	}

	b1, err := ls.GetBalance(customer.ID, s1.ID)
	if err != nil {
		t.Fatalf("get balance s1: %v", err)
	}
	if b1 == nil || b1.Balance != 50 {
		t.Errorf("balance s1 = %+v, want 50", b1)
	}
	b2, _ := ls.GetBalance(customer.ID, s2.ID)
	if b2 == nil || b2.Balance != 30 {
		t.Errorf("balance s2 = %+v, want 30", b2)
	}

	// All entries are now flagged migrated and excluded from future scans.
	remaining, err := ls.ListUnmigrated(testCPF)
	if err != nil {
		t.Fatalf("list unmigrated: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected 0 unmigrated entries, got %d", len(remaining))
	}

	// The migration left an audit transaction per entry.
	txs, err := ls.ListTransactions(customer.ID, 0, 10)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	for _, tx := range txs {
		if tx.Kind != model.TxMigration {
			t.Errorf("transaction kind = %q, want %q", tx.Kind, model.TxMigration)
		}
	}
}

func TestMigrateIdempotent(t *testing.T) {
	ls, ts, cs, us := setupLedgerTestDB(t)
	st := createTestStore(t, ts, us, "loja-um")
	customer := createTestCustomer(t, cs, "cliente@example.com", testCPF)

	if _, err := ls.CreditPending(testCPF, st.ID, 40, ""); err != nil {
		t.Fatalf("credit pending: %v", err)
	}

	first, err := ls.MigratePendingPoints(context.Background(), testCPF, customer.ID)
	if err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if first.MigratedCount != 1 || first.TotalPoints != 40 {
		t.Fatalf("first migrate = %+v, want 1/40", first)
	}

	second, err := ls.MigratePendingPoints(context.Background(), testCPF, customer.ID)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if second.MigratedCount != 0 || second.TotalPoints != 0 {
		t.Errorf("second migrate = %+v, want 0/0", second)
	}

	b, _ := ls.GetBalance(customer.ID, st.ID)
	if b == nil || b.Balance != 40 {
		t.Errorf("balance = %+v, want 40 after repeated migration", b)
	}
}

func TestMigrateNothingPending(t *testing.T) {
	ls, _, cs, _ := setupLedgerTestDB(t)
	customer := createTestCustomer(t, cs, "cliente@example.com", testCPF)

	// No pending entries is a soft empty result, not an error.
	res, err := ls.MigratePendingPoints(context.Background(), testCPF, customer.ID)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if res.MigratedCount != 0 || res.TotalPoints != 0 {
		t.Errorf("result = %+v, want zero counts", res)
	}
}

func TestMigrateNormalizesCPF(t *testing.T) {
	ls, ts, cs, us := setupLedgerTestDB(t)
	st := createTestStore(t, ts, us, "loja-um")
	customer := createTestCustomer(t, cs, "cliente@example.com", testCPF)

	if _, err := ls.CreditPending("52998224725", st.ID, 25, ""); err != nil {
		t.Fatalf("credit pending: %v", err)
	}

	// Formatted input must find the digits-only entry.
	res, err := ls.MigratePendingPoints(context.Background(), "529.982.247-25", customer.ID)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if res.MigratedCount != 1 || res.TotalPoints != 25 {
		t.Errorf("result = %+v, want 1/25", res)
	}
}

func TestMigrateConcurrent(t *testing.T) {
	ls, ts, cs, us := setupLedgerTestDB(t)
	st := createTestStore(t, ts, us, "loja-um")
	customer := createTestCustomer(t, cs, "cliente@example.com", testCPF)

	const entries = 10
	for i := 0; i < entries; i++ {
		if _, err := ls.CreditPending(testCPF, st.ID, 10, ""); err != nil {
			t.Fatalf("credit pending: %v", err)
		}
	}

	// Two racing invocations must collectively migrate each entry exactly
	// once.
	var wg sync.WaitGroup
	results := make([]*model.MigrationResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = ls.MigratePendingPoints(context.Background(), testCPF, customer.ID)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("migrate %d: %v", i, err)
		}
	}

	total := results[0].MigratedCount + results[1].MigratedCount
	if total != entries {
		t.Errorf("combined migrated_count = %d, want %d", total, entries)
	}

	b, err := ls.GetBalance(customer.ID, st.ID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b == nil || b.Balance != entries*10 {
		t.Errorf("balance = %+v, want %d", b, entries*10)
	}
}

func TestCreditPurchase(t *testing.T) {
	ls, ts, cs, us := setupLedgerTestDB(t)
	st := createTestStore(t, ts, us, "loja-um")
	customer := createTestCustomer(t, cs, "cliente@example.com", testCPF)

	const accessKey = "35230111222333000181650010000000421123456781"

	rcpt, err := ls.CreditPurchase(context.Background(), customer.ID, st.ID, 120, accessKey, 12000, testCPF)
	if err != nil {
		t.Fatalf("credit purchase: %v", err)
	}
	if rcpt.Points != 120 {
		t.Errorf("points = %d, want 120", rcpt.Points)
	}
	if rcpt.CustomerID == nil || *rcpt.CustomerID != customer.ID {
		t.Errorf("customer_id = %v, want %d", rcpt.CustomerID, customer.ID)
	}

	b, _ := ls.GetBalance(customer.ID, st.ID)
	if b == nil || b.Balance != 120 {
		t.Errorf("balance = %+v, want 120", b)
	}

	// Scanning the same receipt again is rejected, with no balance change.
	if _, err := ls.CreditPurchase(context.Background(), customer.ID, st.ID, 120, accessKey, 12000, testCPF); !errors.Is(err, ErrDuplicateReceipt) {
		t.Errorf("duplicate scan: err = %v, want ErrDuplicateReceipt", err)
	}
	b, _ = ls.GetBalance(customer.ID, st.ID)
	if b.Balance != 120 {
		t.Errorf("balance after duplicate = %d, want 120", b.Balance)
	}
}

func TestCreditPendingPurchase(t *testing.T) {
	ls, ts, _, us := setupLedgerTestDB(t)
	st := createTestStore(t, ts, us, "loja-um")

	const accessKey = "35230111222333000181650010000000421123456781"

	entry, err := ls.CreditPendingPurchase(context.Background(), testCPFAlt, st.ID, 35, accessKey, 3500)
	if err != nil {
		t.Fatalf("credit pending purchase: %v", err)
	}
	if entry.Amount != 35 {
		t.Errorf("amount = %d, want 35", entry.Amount)
	}
	if entry.ReceiptKey != accessKey {
		t.Errorf("receipt_key = %q, want %q", entry.ReceiptKey, accessKey)
	}

	if _, err := ls.CreditPendingPurchase(context.Background(), testCPFAlt, st.ID, 35, accessKey, 3500); !errors.Is(err, ErrDuplicateReceipt) {
		t.Errorf("duplicate scan: err = %v, want ErrDuplicateReceipt", err)
	}

	count, err := ls.CountUnmigrated(testCPFAlt)
	if err != nil {
		t.Fatalf("count unmigrated: %v", err)
	}
	if count != 1 {
		t.Errorf("unmigrated count = %d, want 1", count)
	}
}

func TestListBalancesAndTransactions(t *testing.T) {
	ls, ts, cs, us := setupLedgerTestDB(t)
	s1 := createTestStore(t, ts, us, "loja-s1")
	s2 := createTestStore(t, ts, us, "loja-s2")
	customer := createTestCustomer(t, cs, "cliente@example.com", testCPF)

	ls.CreditPending(testCPF, s1.ID, 70, "")
	ls.CreditPending(testCPF, s2.ID, 20, "")
	if _, err := ls.MigratePendingPoints(context.Background(), testCPF, customer.ID); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	balances, err := ls.ListBalances(customer.ID)
	if err != nil {
		t.Fatalf("list balances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(balances))
	}
	// Highest balance first.
	if balances[0].StoreID != s1.ID || balances[0].Balance != 70 {
		t.Errorf("balances[0] = %+v, want store %d balance 70", balances[0], s1.ID)
	}

	// Store-scoped listing filters the log.
	txs, err := ls.ListTransactions(customer.ID, s2.ID, 10)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].Amount != 20 {
		t.Errorf("s2 transactions = %+v, want one entry of 20", txs)
	}
}

func TestGetBalanceMissing(t *testing.T) {
	ls, _, cs, _ := setupLedgerTestDB(t)
	customer := createTestCustomer(t, cs, "cliente@example.com", testCPF)

	b, err := ls.GetBalance(customer.ID, 999)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b != nil {
		t.Errorf("expected nil balance, got %+v", b)
	}
}
