package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/northwind-labs/checkout-service/internal/gateway"
	"github.com/northwind-labs/checkout-service/internal/models"
	"github.com/northwind-labs/checkout-service/internal/repository"
)

// EventStore is the durable webhook dedup record.
type EventStore interface {
	MarkProcessed(ctx context.Context, q repository.DBTX, eventID string) error
	Seen(ctx context.Context, eventID string) (bool, error)
}

// CouponRedeemer is the mutation side of coupon accounting, always run
// inside the settlement transaction.
type CouponRedeemer interface {
	IncrementUsage(ctx context.Context, q repository.DBTX, couponID int64) error
	RecordRedemption(ctx context.Context, q repository.DBTX, couponID int64, email, ip, orderID string) error
}

// Notifier delivers the post-settlement side channel. Implementations
// must be non-blocking; failures stay on their side of the boundary.
type Notifier interface {
	OrderSettled(n models.OrderNotification)
}

// OutcomeCode classifies how an inbound event was handled. All of them
// map to a 2xx response: duplicates and stale events are successful
// no-ops from the provider's point of view, which stops retry storms.
type OutcomeCode string

const (
	OutcomeSettled      OutcomeCode = "settled"
	OutcomeDuplicate    OutcomeCode = "duplicate"
	OutcomeDraftFailed  OutcomeCode = "draft_failed"
	OutcomeDraftPending OutcomeCode = "draft_pending"
	OutcomeIgnored      OutcomeCode = "ignored"
)

type Outcome struct {
	Code    OutcomeCode
	OrderID string
}

// SettlementService turns payment-status webhooks into orders. It owns
// the pipeline's central correctness property: at most one order per
// draft, with the order insert, coupon increment, draft transition and
// event dedup record committed as a single transaction.
type SettlementService struct {
	db       *sql.DB
	drafts   DraftStore
	orders   OrderStore
	events   EventStore
	coupons  *CouponService
	redeemer CouponRedeemer
	notifier Notifier
	logger   *zap.Logger
}

func NewSettlementService(
	db *sql.DB,
	drafts DraftStore,
	orders OrderStore,
	events EventStore,
	coupons *CouponService,
	redeemer CouponRedeemer,
	notifier Notifier,
	logger *zap.Logger,
) *SettlementService {
	return &SettlementService{
		db:       db,
		drafts:   drafts,
		orders:   orders,
		events:   events,
		coupons:  coupons,
		redeemer: redeemer,
		notifier: notifier,
		logger:   logger,
	}
}

// ProcessEvent handles one verified, parsed webhook delivery. The
// caller has already checked the signature; amount fields in the
// payload are never trusted, the discount is re-derived from the
// draft's stored subtotal.
func (s *SettlementService) ProcessEvent(ctx context.Context, env gateway.Envelope) (Outcome, error) {
	seen, err := s.events.Seen(ctx, env.EventID)
	if err != nil {
		return Outcome{}, err
	}
	if seen {
		return Outcome{Code: OutcomeDuplicate}, nil
	}

	draft, err := s.drafts.FindByCheckoutSessionID(ctx, env.CheckoutID)
	if err != nil {
		// Includes repository.ErrDraftNotFound: surfaced so the
		// provider retries, covering webhooks that outrun the draft
		// write.
		return Outcome{}, err
	}

	switch env.Status {
	case gateway.EventPaid:
		return s.settle(ctx, draft, env)
	case gateway.EventFailed:
		return s.markTerminal(ctx, draft, env, models.PaymentStatusFailed, OutcomeDraftFailed)
	case gateway.EventPending:
		return s.markTerminal(ctx, draft, env, models.PaymentStatusPending, OutcomeDraftPending)
	default:
		// Unknown event types are acknowledged without mutation for
		// forward compatibility.
		s.logger.Info("ignoring unrecognized webhook status",
			zap.String("event_id", env.EventID), zap.String("status", env.Status))
		return Outcome{Code: OutcomeIgnored}, nil
	}
}

func (s *SettlementService) markTerminal(ctx context.Context, draft *models.CheckoutDraft, env gateway.Envelope, status string, code OutcomeCode) (Outcome, error) {
	if draft.PaymentStatus != models.PaymentStatusPending && draft.PaymentStatus != status {
		// Stale event for a draft that already settled or failed.
		// Never reverts the draft or touches its order.
		s.recordStaleDelivery(ctx, draft, env)
		return Outcome{Code: OutcomeIgnored}, nil
	}

	if err := s.drafts.MarkStatus(ctx, s.db, draft.ID, status, ""); err != nil {
		return Outcome{}, err
	}
	if err := s.events.MarkProcessed(ctx, s.db, env.EventID); err != nil && !errors.Is(err, repository.ErrEventSeen) {
		return Outcome{}, err
	}
	return Outcome{Code: code}, nil
}

// settle materializes the order for a paid draft. All durable effects
// commit together; a crash mid-transaction leaves nothing behind, so a
// redelivery reprocesses safely instead of losing the order.
func (s *SettlementService) settle(ctx context.Context, draft *models.CheckoutDraft, env gateway.Envelope) (Outcome, error) {
	if draft.PaymentStatus == models.PaymentStatusPaid || draft.OrderID != "" {
		s.recordStaleDelivery(ctx, draft, env)
		return Outcome{Code: OutcomeDuplicate, OrderID: draft.OrderID}, nil
	}

	// Re-validate the coupon against the draft's stored subtotal. If
	// the coupon died between draft creation and payment the order
	// still completes without the discount: the provider has already
	// captured the money. The amount mismatch is flagged for manual
	// reconciliation.
	var (
		coupon   *models.Coupon
		discount int64
		mismatch bool
	)
	if draft.CouponCode != "" {
		c, d, err := s.coupons.Validate(ctx, draft.CouponCode, draft.Cart.Subtotal, draft.Email, draft.IPAddress)
		switch {
		case err == nil:
			coupon, discount = c, d
		case IsCouponRejection(err):
			mismatch = true
			s.logger.Warn("coupon invalid at settlement, completing without discount",
				zap.String("draft_id", draft.ID),
				zap.String("coupon_code", draft.CouponCode),
				zap.Error(err))
		default:
			return Outcome{}, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("begin settlement tx: %w", err)
	}
	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
		}
	}()

	// Claiming the event id inside the transaction makes the dedup
	// check atomic with the order insert.
	if err := s.events.MarkProcessed(ctx, tx, env.EventID); err != nil {
		if errors.Is(err, repository.ErrEventSeen) {
			return Outcome{Code: OutcomeDuplicate}, nil
		}
		return Outcome{}, err
	}

	if coupon != nil {
		err := s.redeemer.IncrementUsage(ctx, tx, coupon.ID)
		switch {
		case errors.Is(err, repository.ErrCouponExhausted):
			// Lost the race against a concurrent redemption. Same
			// policy as a coupon that died before settlement.
			s.logger.Warn("coupon cap reached during settlement",
				zap.String("draft_id", draft.ID),
				zap.String("coupon_code", coupon.Code))
			coupon, discount, mismatch = nil, 0, true
		case err != nil:
			return Outcome{}, err
		}
	}

	order := buildOrder(draft, coupon, discount, mismatch)
	if err := s.orders.Create(ctx, tx, order, env.Raw); err != nil {
		if errors.Is(err, repository.ErrOrderExists) {
			// Another delivery settled this draft first. Release the
			// transaction (it holds the claimed event id) before
			// recording the duplicate on a fresh connection.
			_ = tx.Rollback()
			done = true
			s.recordStaleDelivery(ctx, draft, env)
			return Outcome{Code: OutcomeDuplicate}, nil
		}
		return Outcome{}, err
	}

	if coupon != nil {
		if err := s.redeemer.RecordRedemption(ctx, tx, coupon.ID, draft.Email, draft.IPAddress, order.ID); err != nil {
			return Outcome{}, err
		}
	}

	if err := s.drafts.MarkStatus(ctx, tx, draft.ID, models.PaymentStatusPaid, order.ID); err != nil {
		return Outcome{}, err
	}

	if err := tx.Commit(); err != nil {
		return Outcome{}, fmt.Errorf("commit settlement tx: %w", err)
	}
	done = true

	s.logger.Info("order settled",
		zap.String("order_id", order.ID),
		zap.String("draft_id", draft.ID),
		zap.Int64("total_amount", order.TotalAmount),
		zap.Bool("amount_mismatch", order.AmountMismatch))

	if s.notifier != nil {
		s.notifier.OrderSettled(buildNotification(draft, order))
	}

	return Outcome{Code: OutcomeSettled, OrderID: order.ID}, nil
}

// recordStaleDelivery marks the event processed and appends the payload
// to the order's audit trail, outside any transaction. Both are best
// effort: the delivery is already a no-op.
func (s *SettlementService) recordStaleDelivery(ctx context.Context, draft *models.CheckoutDraft, env gateway.Envelope) {
	if err := s.events.MarkProcessed(ctx, s.db, env.EventID); err != nil && !errors.Is(err, repository.ErrEventSeen) {
		s.logger.Warn("failed to record duplicate event",
			zap.String("event_id", env.EventID), zap.Error(err))
	}
	// A no-op when the draft has no order yet: the append matches on
	// draft_id.
	if err := s.orders.AppendWebhookPayload(ctx, draft.ID, env.Raw); err != nil {
		s.logger.Warn("failed to append webhook payload",
			zap.String("draft_id", draft.ID), zap.Error(err))
	}
}

func buildOrder(draft *models.CheckoutDraft, coupon *models.Coupon, discount int64, mismatch bool) *models.Order {
	order := &models.Order{
		ID:             uuid.NewString(),
		DraftID:        draft.ID,
		Subtotal:       draft.Cart.Subtotal,
		DiscountAmount: discount,
		TotalAmount:    draft.Cart.Subtotal - discount,
		Currency:       draft.Cart.Currency,
		PaymentMethod:  draft.PaymentMethod,
		PaymentStatus:  models.PaymentStatusPaid,
		Status:         models.OrderStatusPending,
		AmountMismatch: mismatch,
	}
	if coupon != nil {
		order.CouponID = coupon.ID
		order.CouponCode = coupon.Code
	}
	for _, it := range draft.Cart.Items {
		order.Items = append(order.Items, models.OrderItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return order
}

func buildNotification(draft *models.CheckoutDraft, order *models.Order) models.OrderNotification {
	n := models.OrderNotification{
		OrderID:        order.ID,
		Status:         order.Status,
		Email:          draft.Email,
		Phone:          draft.Phone,
		FullName:       draft.FullName,
		Items:          draft.Cart.Items,
		Subtotal:       order.Subtotal,
		DiscountAmount: order.DiscountAmount,
		CouponCode:     order.CouponCode,
		TotalAmount:    order.TotalAmount,
		Currency:       order.Currency,
	}
	if order.AmountMismatch {
		n.Notes = "charged amount may differ from order total, flagged for reconciliation"
	}
	return n
}
