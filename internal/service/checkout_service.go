package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/northwind-labs/checkout-service/internal/gateway"
	"github.com/northwind-labs/checkout-service/internal/models"
	"github.com/northwind-labs/checkout-service/internal/repository"
)

var ErrEmptyCart = errors.New("cart is empty")

// DraftStore is the persistence surface for checkout drafts.
type DraftStore interface {
	Create(ctx context.Context, d *models.CheckoutDraft) error
	GetByID(ctx context.Context, id string) (*models.CheckoutDraft, error)
	FindByCheckoutSessionID(ctx context.Context, sessionID string) (*models.CheckoutDraft, error)
	SetCheckoutSession(ctx context.Context, draftID, sessionID string) error
	MarkStatus(ctx context.Context, q repository.DBTX, draftID, status, orderID string) error
}

// OrderStore is the persistence surface for settled orders.
type OrderStore interface {
	Create(ctx context.Context, q repository.DBTX, o *models.Order, rawEvent []byte) error
	GetByDraftID(ctx context.Context, draftID string) (*models.Order, error)
	AppendWebhookPayload(ctx context.Context, draftID string, payload []byte) error
}

// PaymentGateway creates external checkout sessions.
type PaymentGateway interface {
	CreateCheckout(ctx context.Context, draft *models.CheckoutDraft, amount int64) (*gateway.Checkout, error)
}

type CheckoutService struct {
	drafts        DraftStore
	orders        OrderStore
	coupons       *CouponService
	gateway       PaymentGateway
	sessionSecret []byte
	logger        *zap.Logger
}

func NewCheckoutService(drafts DraftStore, orders OrderStore, coupons *CouponService, gw PaymentGateway, sessionSecret []byte, logger *zap.Logger) *CheckoutService {
	return &CheckoutService{
		drafts:        drafts,
		orders:        orders,
		coupons:       coupons,
		gateway:       gw,
		sessionSecret: sessionSecret,
		logger:        logger,
	}
}

type BeginCheckoutRequest struct {
	Email         string            `json:"email"`
	Phone         string            `json:"phone"`
	FullName      string            `json:"full_name"`
	Items         []models.CartItem `json:"items"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"payment_method"`
	CouponCode    string            `json:"coupon_code,omitempty"`
	IPAddress     string            `json:"-"`
}

type BeginCheckoutResult struct {
	DraftID    string `json:"draft_id"`
	PaymentURL string `json:"payment_url"`
}

// Begin snapshots the cart, validates (but does not redeem) any coupon,
// persists the draft and creates the external checkout session. The
// subtotal is computed here from the line items; whatever total the
// client claims is ignored. The draft stores only the coupon code, not
// a discount amount: the discount is re-derived at settlement against
// then-current coupon state.
func (s *CheckoutService) Begin(ctx context.Context, req BeginCheckoutRequest) (*BeginCheckoutResult, error) {
	if req.Email == "" {
		return nil, errors.New("email is required")
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 || it.UnitPrice < 0 {
			return nil, fmt.Errorf("invalid quantity or price for product %s", it.ProductID)
		}
	}

	cart := models.CartSnapshot{
		Items:    req.Items,
		Currency: req.Currency,
	}
	cart.Subtotal = cart.ComputeSubtotal()

	// Validated now so the customer learns about a bad code before
	// being redirected to the provider. Redemption happens only at
	// settlement.
	var discount int64
	code := NormalizeCode(req.CouponCode)
	if code != "" {
		_, d, err := s.coupons.Validate(ctx, code, cart.Subtotal, req.Email, req.IPAddress)
		if err != nil {
			return nil, err
		}
		discount = d
	}

	draft := &models.CheckoutDraft{
		ID:            uuid.NewString(),
		Email:         req.Email,
		Phone:         req.Phone,
		FullName:      req.FullName,
		Cart:          cart,
		PaymentMethod: req.PaymentMethod,
		CouponCode:    code,
		IPAddress:     req.IPAddress,
	}
	if err := s.drafts.Create(ctx, draft); err != nil {
		return nil, err
	}

	checkout, err := s.gateway.CreateCheckout(ctx, draft, cart.Subtotal-discount)
	if err != nil {
		s.logger.Error("gateway checkout failed",
			zap.String("draft_id", draft.ID), zap.Error(err))
		return nil, err
	}

	if err := s.drafts.SetCheckoutSession(ctx, draft.ID, checkout.CheckoutSessionID); err != nil {
		return nil, err
	}

	return &BeginCheckoutResult{
		DraftID:    draft.ID,
		PaymentURL: checkout.PaymentURL,
	}, nil
}

type DraftStatus struct {
	DraftID       string `json:"draft_id"`
	PaymentStatus string `json:"payment_status"`
	OrderID       string `json:"order_id,omitempty"`
	TotalAmount   int64  `json:"total_amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
}

// Status backs the browser-return pages. It only reads state; the
// pages never finalize anything themselves.
func (s *CheckoutService) Status(ctx context.Context, draftID string) (*DraftStatus, error) {
	draft, err := s.drafts.GetByID(ctx, draftID)
	if err != nil {
		return nil, err
	}

	st := &DraftStatus{
		DraftID:       draft.ID,
		PaymentStatus: draft.PaymentStatus,
		OrderID:       draft.OrderID,
		Currency:      draft.Cart.Currency,
	}
	if draft.OrderID != "" {
		order, err := s.orders.GetByDraftID(ctx, draft.ID)
		if err != nil {
			return nil, err
		}
		if order != nil {
			st.TotalAmount = order.TotalAmount
		}
	}
	return st, nil
}

// ValidateCoupon backs the storefront's pre-payment coupon check. A
// session token, when present, supplies the customer email claim for
// the per-customer cap so the check matches what settlement will see.
func (s *CheckoutService) ValidateCoupon(ctx context.Context, req models.ValidateCouponRequest) (*models.ValidateCouponResponse, error) {
	email := req.Email
	if email == "" && req.SessionToken != "" {
		email = s.emailFromSessionToken(req.SessionToken)
	}

	coupon, discount, err := s.coupons.Validate(ctx, req.Code, req.Subtotal, email, req.IPAddress)
	if err != nil {
		return nil, err
	}
	return &models.ValidateCouponResponse{
		Code:           coupon.Code,
		DiscountAmount: discount,
	}, nil
}

func (s *CheckoutService) emailFromSessionToken(token string) string {
	if len(s.sessionSecret) == 0 {
		return ""
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.sessionSecret, nil
	})
	if err != nil || !parsed.Valid {
		s.logger.Debug("session token rejected", zap.Error(err))
		return ""
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	email, _ := claims["email"].(string)
	return email
}
