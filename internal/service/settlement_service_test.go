package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/northwind-labs/checkout-service/internal/gateway"
	"github.com/northwind-labs/checkout-service/internal/models"
	"github.com/northwind-labs/checkout-service/internal/repository"
)

// --- In-memory fakes. The DBTX argument is ignored; atomicity in these
// tests comes from each fake's own mutex.

type fakeDraftStore struct {
	mu        sync.Mutex
	byID      map[string]*models.CheckoutDraft
	bySession map[string]string
}

func newFakeDraftStore() *fakeDraftStore {
	return &fakeDraftStore{
		byID:      make(map[string]*models.CheckoutDraft),
		bySession: make(map[string]string),
	}
}

func (s *fakeDraftStore) add(d *models.CheckoutDraft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.PaymentStatus == "" {
		d.PaymentStatus = models.PaymentStatusPending
	}
	s.byID[d.ID] = d
	s.bySession[d.CheckoutSessionID] = d.ID
}

func (s *fakeDraftStore) Create(ctx context.Context, d *models.CheckoutDraft) error {
	s.add(d)
	return nil
}

func (s *fakeDraftStore) GetByID(ctx context.Context, id string) (*models.CheckoutDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrDraftNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *fakeDraftStore) FindByCheckoutSessionID(ctx context.Context, sessionID string) (*models.CheckoutDraft, error) {
	s.mu.Lock()
	id, ok := s.bySession[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, repository.ErrDraftNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *fakeDraftStore) SetCheckoutSession(ctx context.Context, draftID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[draftID].CheckoutSessionID = sessionID
	s.bySession[sessionID] = draftID
	return nil
}

func (s *fakeDraftStore) MarkStatus(ctx context.Context, q repository.DBTX, draftID, status, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[draftID]
	if !ok {
		return repository.ErrDraftNotFound
	}
	if d.PaymentStatus != models.PaymentStatusPending && d.PaymentStatus != status {
		return nil
	}
	d.PaymentStatus = status
	if orderID != "" {
		d.OrderID = orderID
	}
	return nil
}

type fakeOrderStore struct {
	mu       sync.Mutex
	byDraft  map[string]*models.Order
	appended map[string]int
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		byDraft:  make(map[string]*models.Order),
		appended: make(map[string]int),
	}
}

func (s *fakeOrderStore) Create(ctx context.Context, q repository.DBTX, o *models.Order, rawEvent []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byDraft[o.DraftID]; exists {
		return repository.ErrOrderExists
	}
	cp := *o
	s.byDraft[o.DraftID] = &cp
	return nil
}

func (s *fakeOrderStore) GetByDraftID(ctx context.Context, draftID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byDraft[draftID]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *fakeOrderStore) AppendWebhookPayload(ctx context.Context, draftID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended[draftID]++
	return nil
}

func (s *fakeOrderStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byDraft)
}

type fakeEventStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{seen: make(map[string]bool)}
}

func (s *fakeEventStore) MarkProcessed(ctx context.Context, q repository.DBTX, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[eventID] {
		return repository.ErrEventSeen
	}
	s.seen[eventID] = true
	return nil
}

func (s *fakeEventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[eventID], nil
}

// fakeCouponBackend serves both the read side (CouponStore) and the
// mutation side (CouponRedeemer) for one coupon.
type fakeCouponBackend struct {
	mu          sync.Mutex
	coupon      *models.Coupon
	redemptions int
	lastEmail   string
}

func (b *fakeCouponBackend) GetByCode(ctx context.Context, code string) (*models.Coupon, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.coupon == nil || b.coupon.Code != code {
		return nil, nil
	}
	cp := *b.coupon
	return &cp, nil
}

func (b *fakeCouponBackend) CountRedemptions(ctx context.Context, couponID int64, email, ip string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastEmail = email
	return 0, nil
}

func (b *fakeCouponBackend) IncrementUsage(ctx context.Context, q repository.DBTX, couponID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.coupon.TotalUseCap > 0 && b.coupon.CurrentUses >= b.coupon.TotalUseCap {
		return repository.ErrCouponExhausted
	}
	b.coupon.CurrentUses++
	return nil
}

func (b *fakeCouponBackend) RecordRedemption(ctx context.Context, q repository.DBTX, couponID int64, email, ip, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.redemptions++
	return nil
}

func (b *fakeCouponBackend) uses() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.coupon.CurrentUses
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.OrderNotification
}

func (n *recordingNotifier) OrderSettled(notification models.OrderNotification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
}

// --- Test harness.

type settleEnv struct {
	db       *sql.DB
	drafts   *fakeDraftStore
	orders   *fakeOrderStore
	events   *fakeEventStore
	backend  *fakeCouponBackend
	notifier *recordingNotifier
	svc      *SettlementService
}

func newSettleEnv(t *testing.T, coupon *models.Coupon, txBudget int) *settleEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// The fakes ignore the transaction handle, so the mock only has to
	// accept begin/commit/rollback in any order and quantity.
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < txBudget; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}

	env := &settleEnv{
		db:       db,
		drafts:   newFakeDraftStore(),
		orders:   newFakeOrderStore(),
		events:   newFakeEventStore(),
		backend:  &fakeCouponBackend{coupon: coupon},
		notifier: &recordingNotifier{},
	}

	logger := zaptest.NewLogger(t)
	coupons := NewCouponService(env.backend, nil, logger)
	env.svc = NewSettlementService(db, env.drafts, env.orders, env.events,
		coupons, env.backend, env.notifier, logger)
	return env
}

func paidEnvelope(eventID, checkoutID string) gateway.Envelope {
	return envelope(eventID, checkoutID, gateway.EventPaid)
}

func envelope(eventID, checkoutID, status string) gateway.Envelope {
	raw, _ := json.Marshal(map[string]string{"id": eventID, "checkout_id": checkoutID, "status": status})
	return gateway.Envelope{
		EventID:    eventID,
		CheckoutID: checkoutID,
		Status:     status,
		Raw:        raw,
	}
}

func draftWithCoupon(id, session, code string, subtotal int64) *models.CheckoutDraft {
	return &models.CheckoutDraft{
		ID:                id,
		Email:             "shopper@example.com",
		CheckoutSessionID: session,
		CouponCode:        code,
		PaymentMethod:     "card",
		Cart: models.CartSnapshot{
			Items: []models.CartItem{
				{ProductID: "p1", Title: "Widget", Quantity: 1, UnitPrice: subtotal},
			},
			Subtotal: subtotal,
			Currency: "USD",
		},
	}
}

func save10(cap, used int) *models.Coupon {
	return &models.Coupon{
		ID:            7,
		Code:          "SAVE10",
		Active:        true,
		DiscountType:  models.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		TotalUseCap:   cap,
		CurrentUses:   used,
	}
}

// --- Tests.

func TestSettlePaidThenDuplicates(t *testing.T) {
	env := newSettleEnv(t, save10(100, 0), 8)
	env.drafts.add(draftWithCoupon("d1", "cs_1", "SAVE10", 5000))
	ctx := context.Background()

	outcome, err := env.svc.ProcessEvent(ctx, paidEnvelope("evt_1", "cs_1"))
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if outcome.Code != OutcomeSettled || outcome.OrderID == "" {
		t.Fatalf("outcome = %+v, want settled with order id", outcome)
	}

	order, _ := env.orders.GetByDraftID(ctx, "d1")
	if order == nil {
		t.Fatal("order not created")
	}
	if order.DiscountAmount != 500 || order.TotalAmount != 4500 || order.Subtotal != 5000 {
		t.Errorf("order amounts = %d/%d/%d, want 500/4500/5000",
			order.DiscountAmount, order.TotalAmount, order.Subtotal)
	}
	if order.AmountMismatch {
		t.Error("amount_mismatch should be false")
	}
	if len(order.Items) != 1 {
		t.Errorf("order items = %d, want 1", len(order.Items))
	}
	if env.backend.uses() != 1 {
		t.Errorf("coupon uses = %d, want 1", env.backend.uses())
	}
	draft, _ := env.drafts.GetByID(ctx, "d1")
	if draft.PaymentStatus != models.PaymentStatusPaid || draft.OrderID != order.ID {
		t.Errorf("draft = %s/%s, want PAID/%s", draft.PaymentStatus, draft.OrderID, order.ID)
	}
	if len(env.notifier.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(env.notifier.sent))
	}
	if n := env.notifier.sent[0]; n.TotalAmount != 4500 || n.CouponCode != "SAVE10" {
		t.Errorf("notification = %+v", n)
	}

	// Same event id again: idempotent no-op via the dedup record.
	outcome, err = env.svc.ProcessEvent(ctx, paidEnvelope("evt_1", "cs_1"))
	if err != nil || outcome.Code != OutcomeDuplicate {
		t.Fatalf("replay outcome = %+v, %v; want duplicate", outcome, err)
	}

	// Fresh event id for the same checkout: caught by the settled draft.
	outcome, err = env.svc.ProcessEvent(ctx, paidEnvelope("evt_2", "cs_1"))
	if err != nil || outcome.Code != OutcomeDuplicate {
		t.Fatalf("second delivery outcome = %+v, %v; want duplicate", outcome, err)
	}

	if env.orders.count() != 1 {
		t.Errorf("orders = %d, want exactly 1", env.orders.count())
	}
	if env.backend.uses() != 1 {
		t.Errorf("coupon uses after replays = %d, want 1", env.backend.uses())
	}
	if len(env.notifier.sent) != 1 {
		t.Errorf("notifications after replays = %d, want 1", len(env.notifier.sent))
	}
}

func TestSettleWithoutCoupon(t *testing.T) {
	env := newSettleEnv(t, nil, 4)
	env.drafts.add(draftWithCoupon("d1", "cs_1", "", 3000))

	outcome, err := env.svc.ProcessEvent(context.Background(), paidEnvelope("evt_1", "cs_1"))
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if outcome.Code != OutcomeSettled {
		t.Fatalf("outcome = %+v", outcome)
	}

	order, _ := env.orders.GetByDraftID(context.Background(), "d1")
	if order.DiscountAmount != 0 || order.TotalAmount != 3000 {
		t.Errorf("order amounts = %d/%d, want 0/3000", order.DiscountAmount, order.TotalAmount)
	}
}

func TestSettleCouponInvalidAtSettlement(t *testing.T) {
	// Exhausted between draft creation and payment: the order still
	// completes, without the discount, flagged for reconciliation.
	env := newSettleEnv(t, save10(1, 1), 4)
	env.drafts.add(draftWithCoupon("d1", "cs_1", "SAVE10", 5000))

	outcome, err := env.svc.ProcessEvent(context.Background(), paidEnvelope("evt_1", "cs_1"))
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if outcome.Code != OutcomeSettled {
		t.Fatalf("outcome = %+v", outcome)
	}

	order, _ := env.orders.GetByDraftID(context.Background(), "d1")
	if order.DiscountAmount != 0 || order.TotalAmount != 5000 {
		t.Errorf("order amounts = %d/%d, want 0/5000", order.DiscountAmount, order.TotalAmount)
	}
	if !order.AmountMismatch {
		t.Error("order must be flagged for manual reconciliation")
	}
	if order.CouponCode != "" {
		t.Errorf("coupon should not be linked, got %q", order.CouponCode)
	}
	if env.backend.uses() != 1 {
		t.Errorf("coupon uses = %d, want unchanged 1", env.backend.uses())
	}
	if n := env.notifier.sent[0]; n.Notes == "" {
		t.Error("notification should carry a reconciliation note")
	}
}

func TestFailedEventMarksDraft(t *testing.T) {
	env := newSettleEnv(t, nil, 4)
	env.drafts.add(draftWithCoupon("d1", "cs_1", "", 3000))
	ctx := context.Background()

	outcome, err := env.svc.ProcessEvent(ctx, envelope("evt_1", "cs_1", gateway.EventFailed))
	if err != nil || outcome.Code != OutcomeDraftFailed {
		t.Fatalf("outcome = %+v, %v", outcome, err)
	}

	draft, _ := env.drafts.GetByID(ctx, "d1")
	if draft.PaymentStatus != models.PaymentStatusFailed {
		t.Errorf("draft status = %s, want FAILED", draft.PaymentStatus)
	}
	if env.orders.count() != 0 {
		t.Error("failed event must not create an order")
	}
}

func TestStaleFailedEventAfterPaid(t *testing.T) {
	env := newSettleEnv(t, nil, 6)
	env.drafts.add(draftWithCoupon("d1", "cs_1", "", 3000))
	ctx := context.Background()

	if _, err := env.svc.ProcessEvent(ctx, paidEnvelope("evt_1", "cs_1")); err != nil {
		t.Fatalf("settle: %v", err)
	}

	outcome, err := env.svc.ProcessEvent(ctx, envelope("evt_2", "cs_1", gateway.EventFailed))
	if err != nil || outcome.Code != OutcomeIgnored {
		t.Fatalf("stale failed outcome = %+v, %v; want ignored", outcome, err)
	}

	draft, _ := env.drafts.GetByID(ctx, "d1")
	if draft.PaymentStatus != models.PaymentStatusPaid {
		t.Errorf("draft status = %s, paid draft must never revert", draft.PaymentStatus)
	}
	if env.orders.count() != 1 {
		t.Error("stale failed event must not touch the order")
	}
}

func TestPendingEvent(t *testing.T) {
	env := newSettleEnv(t, nil, 4)
	env.drafts.add(draftWithCoupon("d1", "cs_1", "", 3000))
	ctx := context.Background()

	outcome, err := env.svc.ProcessEvent(ctx, envelope("evt_1", "cs_1", gateway.EventPending))
	if err != nil || outcome.Code != OutcomeDraftPending {
		t.Fatalf("outcome = %+v, %v", outcome, err)
	}

	draft, _ := env.drafts.GetByID(ctx, "d1")
	if draft.PaymentStatus != models.PaymentStatusPending {
		t.Errorf("draft status = %s, want PENDING", draft.PaymentStatus)
	}
}

func TestUnrecognizedStatusIsNoOp(t *testing.T) {
	env := newSettleEnv(t, nil, 4)
	env.drafts.add(draftWithCoupon("d1", "cs_1", "", 3000))
	ctx := context.Background()

	outcome, err := env.svc.ProcessEvent(ctx, envelope("evt_1", "cs_1", gateway.EventUnknown))
	if err != nil || outcome.Code != OutcomeIgnored {
		t.Fatalf("outcome = %+v, %v", outcome, err)
	}

	if seen, _ := env.events.Seen(ctx, "evt_1"); seen {
		t.Error("unrecognized events should not claim the event id")
	}
	if env.orders.count() != 0 {
		t.Error("unrecognized events must not mutate state")
	}
}

func TestUnknownDraftIsRetryable(t *testing.T) {
	env := newSettleEnv(t, nil, 4)

	_, err := env.svc.ProcessEvent(context.Background(), paidEnvelope("evt_1", "cs_missing"))
	if !errors.Is(err, repository.ErrDraftNotFound) {
		t.Errorf("error = %v, want ErrDraftNotFound so the provider retries", err)
	}
}

func TestConcurrentSettlementsRespectCouponCap(t *testing.T) {
	const providers = 25
	const cap = 3

	env := newSettleEnv(t, save10(cap, 0), providers*2)
	ctx := context.Background()

	for i := 0; i < providers; i++ {
		env.drafts.add(draftWithCoupon(
			fmt.Sprintf("d%d", i), fmt.Sprintf("cs_%d", i), "SAVE10", 5000))
	}

	var wg sync.WaitGroup
	errs := make(chan error, providers)
	for i := 0; i < providers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.ProcessEvent(ctx,
				paidEnvelope(fmt.Sprintf("evt_%d", i), fmt.Sprintf("cs_%d", i)))
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("ProcessEvent() error = %v", err)
	}

	if env.orders.count() != providers {
		t.Errorf("orders = %d, want %d (no paid order may be lost)", env.orders.count(), providers)
	}
	if env.backend.uses() != cap {
		t.Errorf("coupon uses = %d, must equal the cap %d", env.backend.uses(), cap)
	}

	discounted := 0
	for i := 0; i < providers; i++ {
		order, _ := env.orders.GetByDraftID(ctx, fmt.Sprintf("d%d", i))
		if order == nil {
			t.Fatalf("missing order for draft d%d", i)
		}
		if order.DiscountAmount > 0 {
			discounted++
			if order.TotalAmount != 4500 {
				t.Errorf("discounted order total = %d, want 4500", order.TotalAmount)
			}
		} else if order.TotalAmount != 5000 {
			t.Errorf("full-price order total = %d, want 5000", order.TotalAmount)
		}
	}
	if discounted > cap {
		t.Errorf("discounted orders = %d, cap is %d", discounted, cap)
	}
}
