package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tagihanapp/tagihan/internal/domain"
	"github.com/tagihanapp/tagihan/internal/infrastructure/midtrans"
)

// ---- fakes ----

type fakeInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[string]*domain.Invoice
}

func (f *fakeInvoiceRepo) Create(ctx context.Context, inv *domain.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices[inv.ID] = inv
	return nil
}

func (f *fakeInvoiceRepo) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeInvoiceRepo) GetByTeamID(ctx context.Context, teamID string) ([]*domain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Invoice
	for _, inv := range f.invoices {
		if inv.TeamID == teamID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeInvoiceRepo) GetByPaymentReference(ctx context.Context, orderID string) (*domain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invoices {
		if inv.PaymentReference == orderID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments []*domain.Payment
}

func (f *fakePaymentRepo) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakePaymentRepo) GetLatestByInvoiceID(ctx context.Context, invoiceID string) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.payments) - 1; i >= 0; i-- {
		if f.payments[i].InvoiceID == invoiceID {
			cp := *f.payments[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakePaymentRepo) GetByProviderID(ctx context.Context, providerID string) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.ProviderID == providerID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

type fakeTeamRepo struct {
	members map[string]bool // teamID:userID
}

func (f *fakeTeamRepo) Create(ctx context.Context, team *domain.Team) error { return nil }
func (f *fakeTeamRepo) GetByID(ctx context.Context, id string) (*domain.Team, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeTeamRepo) AddMember(ctx context.Context, member *domain.TeamMember) error { return nil }
func (f *fakeTeamRepo) IsMember(ctx context.Context, teamID, userID string) (bool, error) {
	return f.members[teamID+":"+userID], nil
}
func (f *fakeTeamRepo) GetTeamIDsByUserID(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}

type fakeUserRepo struct{}

func (f *fakeUserRepo) Create(ctx context.Context, user *domain.User) error { return nil }
func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return &domain.User{ID: id, Email: "payer@example.com", Name: "Payer"}, nil
}
func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeUserRepo) GetByFirebaseUID(ctx context.Context, uid string) (*domain.User, error) {
	return nil, domain.ErrNotFound
}

// fakeLedger applies commits to the in-memory repos so replay paths see what
// was committed. failWith forces the next CommitCharge to fail once.
type fakeLedger struct {
	mu       sync.Mutex
	invoices *fakeInvoiceRepo
	payments *fakePaymentRepo
	commits  int
	failWith error
}

func (f *fakeLedger) CommitCharge(ctx context.Context, commit domain.ChargeCommit) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		err := f.failWith
		f.failWith = nil
		return nil, err
	}
	f.commits++

	inv := f.invoices.invoices[commit.InvoiceID]
	inv.Status = domain.InvoiceStatusPending
	inv.PaymentProvider = commit.Provider
	inv.PaymentReference = commit.OrderID

	payment := &domain.Payment{
		ID:            fmt.Sprintf("pay-%d", f.commits),
		InvoiceID:     commit.InvoiceID,
		TeamID:        commit.TeamID,
		Amount:        commit.Amount,
		Currency:      commit.Currency,
		Status:        domain.PaymentStatusPending,
		PaymentMethod: commit.PaymentMethod,
		Provider:      commit.Provider,
		ProviderID:    commit.ProviderID,
		Metadata:      commit.Metadata,
	}
	if commit.ExistingPaymentID != "" {
		payment.ID = commit.ExistingPaymentID
		for i, p := range f.payments.payments {
			if p.ID == commit.ExistingPaymentID {
				f.payments.payments[i] = payment
				return payment, nil
			}
		}
	}
	f.payments.payments = append(f.payments.payments, payment)
	return payment, nil
}

func (f *fakeLedger) ApplyGatewayUpdate(ctx context.Context, providerID, paymentStatus string, raw []byte) (*domain.GatewayUpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments.payments {
		if p.ProviderID != providerID {
			continue
		}
		inv := f.invoices.invoices[p.InvoiceID]
		if p.Status == paymentStatus {
			return &domain.GatewayUpdateResult{Payment: p, Invoice: inv, NoOp: true}, nil
		}
		if p.IsTerminal() && paymentStatus == domain.PaymentStatusPending {
			return &domain.GatewayUpdateResult{Payment: p, Invoice: inv, NoOp: true}, nil
		}
		p.Status = paymentStatus
		p.Metadata = raw
		if paymentStatus == domain.PaymentStatusCompleted {
			inv.Status = domain.InvoiceStatusPaid
		}
		return &domain.GatewayUpdateResult{Payment: p, Invoice: inv}, nil
	}
	return nil, domain.ErrNotFound
}

type fakeGateway struct {
	mu     sync.Mutex
	calls  int
	err    error
	result *midtrans.ChargeResult
}

func (f *fakeGateway) ChargeQRIS(ctx context.Context, req midtrans.ChargeRequest) (*midtrans.ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	result := *f.result
	if result.OrderID == "" {
		result.OrderID = req.OrderID
	}
	raw, _ := json.Marshal(map[string]interface{}{
		"transaction_id":     result.TransactionID,
		"order_id":           result.OrderID,
		"transaction_status": result.TransactionStatus,
		"payment_type":       result.PaymentType,
		"actions": []map[string]string{
			{"name": midtrans.QRActionName, "url": "https://api.sandbox.midtrans.com/v2/qris/T1/qr-code"},
		},
	})
	result.Actions = []midtrans.Action{
		{Name: midtrans.QRActionName, URL: "https://api.sandbox.midtrans.com/v2/qris/T1/qr-code"},
	}
	result.Raw = raw
	return &result, nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ---- fixture ----

type chargeFixture struct {
	svc      *ChargeService
	invoices *fakeInvoiceRepo
	payments *fakePaymentRepo
	ledger   *fakeLedger
	gateway  *fakeGateway
}

func newChargeFixture(t *testing.T) *chargeFixture {
	t.Helper()
	invoices := &fakeInvoiceRepo{invoices: map[string]*domain.Invoice{
		"inv-42": {
			ID:            "inv-42",
			TeamID:        "team-1",
			InvoiceNumber: "INV-2026-0042",
			Amount:        50000,
			Currency:      "IDR",
			Status:        domain.InvoiceStatusPending,
		},
	}}
	payments := &fakePaymentRepo{}
	ledger := &fakeLedger{invoices: invoices, payments: payments}
	gateway := &fakeGateway{result: &midtrans.ChargeResult{
		TransactionID:     "T1",
		TransactionStatus: "pending",
		PaymentType:       midtrans.PaymentTypeQRIS,
	}}

	svc := NewChargeService(invoices, payments, &fakeTeamRepo{members: map[string]bool{"team-1:user-1": true}}, &fakeUserRepo{}, ledger, gateway, nil)
	return &chargeFixture{svc: svc, invoices: invoices, payments: payments, ledger: ledger, gateway: gateway}
}

// ---- tests ----

func TestRequestChargeCreatesGatewayCharge(t *testing.T) {
	f := newChargeFixture(t)

	resp, err := f.svc.RequestCharge(context.Background(), "inv-42", "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.gateway.callCount())
	assert.Equal(t, 1, f.ledger.commits)
	assert.Equal(t, "inv-42", resp.InvoiceID)
	assert.Equal(t, "INV-2026-0042", resp.OrderID)
	assert.Equal(t, "T1", resp.TransactionID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, midtrans.PaymentTypeQRIS, resp.PaymentType)
	assert.Contains(t, resp.QRUrl, "qr-code")
	assert.False(t, resp.Replayed)

	// ledger projected the commit onto the invoice
	inv, err := f.invoices.GetByID(context.Background(), "inv-42")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPending, inv.Status)
	assert.Equal(t, "INV-2026-0042", inv.PaymentReference)
	assert.Equal(t, midtrans.ProviderName, inv.PaymentProvider)
}

func TestRequestChargeReplaysExistingPayment(t *testing.T) {
	f := newChargeFixture(t)

	first, err := f.svc.RequestCharge(context.Background(), "inv-42", "user-1")
	require.NoError(t, err)

	second, err := f.svc.RequestCharge(context.Background(), "inv-42", "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.gateway.callCount(), "retry must not reach the gateway")
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Contains(t, second.QRUrl, "qr-code")
}

func TestRequestChargeAlreadyPaid(t *testing.T) {
	f := newChargeFixture(t)
	f.invoices.invoices["inv-42"].Status = domain.InvoiceStatusPaid

	_, err := f.svc.RequestCharge(context.Background(), "inv-42", "user-1")
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
	assert.Equal(t, 0, f.gateway.callCount())
}

func TestRequestChargeForbiddenForNonMember(t *testing.T) {
	f := newChargeFixture(t)

	_, err := f.svc.RequestCharge(context.Background(), "inv-42", "user-2")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, 0, f.gateway.callCount())
}

func TestRequestChargeInvoiceNotFound(t *testing.T) {
	f := newChargeFixture(t)

	_, err := f.svc.RequestCharge(context.Background(), "inv-missing", "user-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequestChargeGatewayFailureLeavesNoWrites(t *testing.T) {
	f := newChargeFixture(t)
	f.gateway.err = &midtrans.GatewayError{StatusCode: 503, Message: "gateway down"}

	_, err := f.svc.RequestCharge(context.Background(), "inv-42", "user-1")

	var gwErr *midtrans.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, 503, gwErr.StatusCode)
	assert.Equal(t, 0, f.ledger.commits)

	inv, err := f.invoices.GetByID(context.Background(), "inv-42")
	require.NoError(t, err)
	assert.Empty(t, inv.PaymentReference)

	// a later retry goes back to the gateway and succeeds
	f.gateway.mu.Lock()
	f.gateway.err = nil
	f.gateway.mu.Unlock()

	resp, err := f.svc.RequestCharge(context.Background(), "inv-42", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.gateway.callCount())
	assert.Equal(t, "T1", resp.TransactionID)
}

func TestRequestChargeRetriesAfterFailedPayment(t *testing.T) {
	f := newChargeFixture(t)
	f.payments.payments = append(f.payments.payments, &domain.Payment{
		ID:         "pay-old",
		InvoiceID:  "inv-42",
		Status:     domain.PaymentStatusFailed,
		ProviderID: "T0",
	})

	resp, err := f.svc.RequestCharge(context.Background(), "inv-42", "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.gateway.callCount(), "failed payment must not be replayed")
	assert.Equal(t, "T1", resp.TransactionID)

	// the failed row was updated in place, not duplicated
	latest, err := f.payments.GetLatestByInvoiceID(context.Background(), "inv-42")
	require.NoError(t, err)
	assert.Equal(t, "pay-old", latest.ID)
	assert.Equal(t, "T1", latest.ProviderID)
	assert.Equal(t, domain.PaymentStatusPending, latest.Status)
}

func TestRequestChargeLostCommitRaceReplaysWinner(t *testing.T) {
	f := newChargeFixture(t)

	// the winner's commit is already in the ledger; ours will bounce off the
	// unique index
	winnerMeta, _ := json.Marshal(map[string]interface{}{
		"transaction_id":     "T-winner",
		"order_id":           "INV-2026-0042",
		"transaction_status": "pending",
		"payment_type":       midtrans.PaymentTypeQRIS,
	})
	f.payments.payments = append(f.payments.payments, &domain.Payment{
		ID:         "pay-winner",
		InvoiceID:  "inv-42",
		Status:     domain.PaymentStatusPending,
		ProviderID: "T-winner",
		Metadata:   winnerMeta,
	})
	f.invoices.invoices["inv-42"].PaymentReference = "INV-2026-0042"
	f.ledger.failWith = domain.ErrDuplicateCommit

	// bypass the replay fast path to exercise the commit conflict directly
	resp, err := f.svc.replayOrCreateForTest(context.Background(), "inv-42", "user-1")
	require.NoError(t, err)

	assert.True(t, resp.Replayed)
	assert.Equal(t, "T-winner", resp.TransactionID)
	assert.Equal(t, "INV-2026-0042", resp.OrderID)
}

// replayOrCreateForTest drives replayOrCreate with a forced-stale invoice
// snapshot, simulating two requests that both passed the replay check.
func (s *ChargeService) replayOrCreateForTest(ctx context.Context, invoiceID, userID string) (*ChargeResponse, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	// pretend we read the invoice before the winner committed
	stale := *invoice
	stale.PaymentReference = ""

	existingBackup := s.payments
	s.payments = &emptyPaymentRepo{fallback: existingBackup}
	resp, err := s.replayOrCreate(ctx, &stale, userID)
	s.payments = existingBackup
	return resp, err
}

// emptyPaymentRepo hides existing payments from the first lookup only, so
// replayOrCreate proceeds to the gateway and hits the duplicate commit.
type emptyPaymentRepo struct {
	fallback domain.PaymentRepository
	looked   bool
}

func (e *emptyPaymentRepo) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return e.fallback.GetByID(ctx, id)
}

func (e *emptyPaymentRepo) GetLatestByInvoiceID(ctx context.Context, invoiceID string) (*domain.Payment, error) {
	if !e.looked {
		e.looked = true
		return nil, domain.ErrNotFound
	}
	return e.fallback.GetLatestByInvoiceID(ctx, invoiceID)
}

func (e *emptyPaymentRepo) GetByProviderID(ctx context.Context, providerID string) (*domain.Payment, error) {
	return e.fallback.GetByProviderID(ctx, providerID)
}

func TestRequestChargeConcurrentRequestsSingleGatewayCall(t *testing.T) {
	f := newChargeFixture(t)

	const n = 8
	var wg sync.WaitGroup
	responses := make([]*ChargeResponse, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i], errs[i] = f.svc.RequestCharge(context.Background(), "inv-42", "user-1")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.gateway.callCount())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "T1", responses[i].TransactionID)
		assert.Equal(t, "INV-2026-0042", responses[i].OrderID)
	}
}

// The gateway call is shared across collapsed waiters, so one caller hanging
// up must not cancel it for the rest.
func TestRequestChargeSurvivesCallerCancellation(t *testing.T) {
	f := newChargeFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := f.svc.RequestCharge(ctx, "inv-42", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "T1", resp.TransactionID)
	assert.Equal(t, 1, f.gateway.callCount())
	assert.Equal(t, 1, f.ledger.commits)
}

func TestRequestChargeSynthesizesOrderID(t *testing.T) {
	f := newChargeFixture(t)
	f.invoices.invoices["inv-42"].InvoiceNumber = ""

	resp, err := f.svc.RequestCharge(context.Background(), "inv-42", "user-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.OrderID, "INV-inv-42-"), "got %q", resp.OrderID)
}

func TestApplyGatewayUpdateSettlesInvoice(t *testing.T) {
	f := newChargeFixture(t)

	_, err := f.svc.RequestCharge(context.Background(), "inv-42", "user-1")
	require.NoError(t, err)

	raw := []byte(`{"transaction_status":"settlement"}`)
	result, err := f.svc.ApplyGatewayUpdate(context.Background(), "T1", "settlement", raw)
	require.NoError(t, err)
	assert.False(t, result.NoOp)
	assert.Equal(t, domain.PaymentStatusCompleted, result.Payment.Status)
	assert.Equal(t, domain.InvoiceStatusPaid, result.Invoice.Status)

	// duplicate notification is a no-op, not an error
	again, err := f.svc.ApplyGatewayUpdate(context.Background(), "T1", "settlement", raw)
	require.NoError(t, err)
	assert.True(t, again.NoOp)
}

func TestApplyGatewayUpdateIgnoresLatePending(t *testing.T) {
	f := newChargeFixture(t)

	_, err := f.svc.RequestCharge(context.Background(), "inv-42", "user-1")
	require.NoError(t, err)

	_, err = f.svc.ApplyGatewayUpdate(context.Background(), "T1", "settlement", []byte(`{"transaction_status":"settlement"}`))
	require.NoError(t, err)

	// an out-of-order pending notification arrives after settlement
	late, err := f.svc.ApplyGatewayUpdate(context.Background(), "T1", "pending", []byte(`{"transaction_status":"pending"}`))
	require.NoError(t, err)
	assert.True(t, late.NoOp)

	payment, err := f.payments.GetByProviderID(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, payment.Status)

	inv, err := f.invoices.GetByID(context.Background(), "inv-42")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, inv.Status)
}

func TestApplyGatewayUpdateUnknownProvider(t *testing.T) {
	f := newChargeFixture(t)

	_, err := f.svc.ApplyGatewayUpdate(context.Background(), "T-unknown", "settlement", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMapTransactionStatus(t *testing.T) {
	cases := map[string]string{
		"capture":        domain.PaymentStatusCompleted,
		"settlement":     domain.PaymentStatusCompleted,
		"pending":        domain.PaymentStatusPending,
		"deny":           domain.PaymentStatusFailed,
		"cancel":         domain.PaymentStatusFailed,
		"expire":         domain.PaymentStatusFailed,
		"failure":        domain.PaymentStatusFailed,
		"refund":         domain.PaymentStatusRefunded,
		"partial_refund": domain.PaymentStatusRefunded,
	}
	for in, want := range cases {
		got, err := MapTransactionStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := MapTransactionStatus("teleported")
	assert.Error(t, err)
}
