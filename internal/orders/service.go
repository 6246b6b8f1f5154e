package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-restaurant-backend/internal/apperr"
	"github.com/ariefcatur/go-restaurant-backend/internal/auth"
	"github.com/ariefcatur/go-restaurant-backend/internal/events"
	"github.com/ariefcatur/go-restaurant-backend/internal/inventory"
	"github.com/ariefcatur/go-restaurant-backend/internal/payment"
	"github.com/ariefcatur/go-restaurant-backend/internal/pricing"
	"github.com/ariefcatur/go-restaurant-backend/internal/redisx"
)

// Tx is the unit of work order placement runs in. Everything done through it
// commits or rolls back together.
type Tx interface {
	inventory.StockStore
	// LoadCart returns nil when the user has no cart.
	LoadCart(ctx context.Context, userID string) (*Cart, error)
	// GetShippingMethod returns nil when the method does not exist.
	GetShippingMethod(ctx context.Context, id string) (*ShippingMethod, error)
	InsertOrder(ctx context.Context, o *Order) error
	ClearCart(ctx context.Context, cartID string) error
}

type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	// GetOrder returns apperr.ErrNotFound when the order does not exist.
	GetOrder(ctx context.Context, id string) (*Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]Order, error)
	ListOrders(ctx context.Context) ([]Order, error)
	// TransitionStatus moves the order from -> e.Status and appends e to the
	// history atomically. It returns apperr.ErrInvalidTransition when the
	// stored status is no longer from.
	TransitionStatus(ctx context.Context, id string, from Status, e StatusEntry) error
	SetPaymentRef(ctx context.Context, id, ref string) error
	SetPaymentStatus(ctx context.Context, id string, st PaymentStatus) error
	// MarkPaid sets payment_status=paid on the user's own order and reports
	// whether anything changed. Missing or foreign orders give apperr.ErrNotFound.
	MarkPaid(ctx context.Context, id, userID string) (bool, error)
}

type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Remember(ctx context.Context, key, id string) error
}

type StatusCache interface {
	Put(ctx context.Context, key string, v any) error
	Get(ctx context.Context, key string, out any) (bool, error)
}

type Service struct {
	Store    Store
	Pricing  *pricing.Engine
	Gateways map[PaymentMethod]payment.Gateway
	Events   events.Publisher
	Idem     IdempotencyStore
	Cache    StatusCache
	Log      zerolog.Logger
	Producer string
	Now      func() time.Time
}

type PlaceOrderInput struct {
	UserID           string
	ShippingAddress  ShippingAddress
	ShippingMethodID string
	PaymentMethod    PaymentMethod
	IdempotencyKey   string
}

type PlaceOrderResult struct {
	Order *Order
	// Payment is set when the order was handed to a gateway.
	Payment *payment.Session
	// Replayed is true when the idempotency key matched an earlier order.
	Replayed bool
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*PlaceOrderResult, error) {
	if !in.PaymentMethod.Valid() {
		return nil, apperr.Validation(map[string]string{"payment_method": "must be one of cod, card"})
	}
	if _, err := uuid.Parse(in.ShippingMethodID); err != nil {
		return nil, apperr.Validation(map[string]string{"shipping_method_id": "must be a valid id"})
	}
	gw, needsGateway := s.Gateways[in.PaymentMethod]
	if in.PaymentMethod == PaymentCard && !needsGateway {
		return nil, apperr.Validation(map[string]string{"payment_method": "card payments are not available"})
	}

	idemKey := ""
	if in.IdempotencyKey != "" && s.Idem != nil {
		idemKey = in.UserID + ":" + in.IdempotencyKey
		if id, ok, err := s.Idem.Lookup(ctx, idemKey); err != nil {
			s.Log.Warn().Err(err).Msg("idempotency lookup failed")
		} else if ok {
			o, err := s.Store.GetOrder(ctx, id)
			if err == nil {
				return &PlaceOrderResult{Order: o, Replayed: true}, nil
			}
			if !errors.Is(err, apperr.ErrNotFound) {
				return nil, err
			}
		}
	}

	now := s.now()
	var order *Order
	err := s.Store.InTx(ctx, func(tx Tx) error {
		cart, err := tx.LoadCart(ctx, in.UserID)
		if err != nil {
			return err
		}
		if cart == nil {
			return apperr.ErrCartNotFound
		}
		if len(cart.Lines) == 0 {
			return apperr.ErrCartEmpty
		}

		sm, err := tx.GetShippingMethod(ctx, in.ShippingMethodID)
		if err != nil {
			return err
		}
		if sm == nil || !sm.IsActive {
			return apperr.ErrInvalidShippingMethod
		}

		items := make([]LineItem, 0, len(cart.Lines))
		priced := make([]pricing.Line, 0, len(cart.Lines))
		reserve := make([]inventory.Line, 0, len(cart.Lines))
		for _, l := range cart.Lines {
			var disc *decimal.Decimal
			if l.DiscountedPrice.Valid {
				disc = &l.DiscountedPrice.Decimal
			}
			unit := pricing.EffectiveUnitPrice(l.Price, disc)
			items = append(items, LineItem{
				ProductID:    l.ProductID,
				Name:         l.Name,
				Image:        l.Image,
				Quantity:     l.Quantity,
				PriceAtOrder: unit,
			})
			priced = append(priced, pricing.Line{UnitPrice: unit, Quantity: l.Quantity})
			reserve = append(reserve, inventory.Line{ProductID: l.ProductID, Name: l.Name, Quantity: l.Quantity})
		}
		if err := inventory.NewLedger(tx).ReserveAll(ctx, reserve); err != nil {
			return err
		}

		totals := s.Pricing.Quote(priced, sm.Fee)
		order = &Order{
			ID:               uuid.NewString(),
			UserID:           in.UserID,
			Items:            items,
			Subtotal:         totals.Subtotal,
			Tax:              totals.Tax,
			DeliveryFee:      totals.DeliveryFee,
			Total:            totals.Total,
			ShippingMethodID: sm.ID,
			ShippingAddress:  in.ShippingAddress,
			PaymentMethod:    in.PaymentMethod,
			PaymentStatus:    PaymentPending,
			OrderStatus:      StatusPending,
			StatusHistory:    []StatusEntry{{Status: StatusPending, ChangedBy: in.UserID, ChangedAt: now}},
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.ClearCart(ctx, cart.ID)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrInsufficientStock) {
			s.Log.Warn().Str("user_id", in.UserID).Err(err).Msg("order rejected")
		}
		return nil, err
	}

	s.Log.Info().Str("order_id", order.ID).Str("user_id", order.UserID).Str("total", order.Total.StringFixed(2)).Msg("order placed")
	s.publishPlaced(ctx, order)
	s.cacheStatus(ctx, order)
	if idemKey != "" {
		if err := s.Idem.Remember(ctx, idemKey, order.ID); err != nil {
			s.Log.Warn().Err(err).Str("order_id", order.ID).Msg("idempotency store failed")
		}
	}

	res := &PlaceOrderResult{Order: order}
	if !needsGateway {
		return res, nil
	}

	sess, err := gw.CreateSession(ctx, order.Total, order.ID)
	if err != nil {
		s.Log.Error().Err(err).Str("order_id", order.ID).Msg("payment session failed")
		if uerr := s.Store.SetPaymentStatus(ctx, order.ID, PaymentFailed); uerr != nil {
			s.Log.Error().Err(uerr).Str("order_id", order.ID).Msg("mark payment failed")
		} else {
			order.PaymentStatus = PaymentFailed
			order.UpdatedAt = s.now()
			s.cacheStatus(ctx, order)
		}
		return nil, apperr.New(apperr.CodePaymentFailed, "failed to initiate payment for order %s", order.ID)
	}
	if err := s.Store.SetPaymentRef(ctx, order.ID, sess.Reference); err != nil {
		return nil, err
	}
	order.PaymentRef = sess.Reference
	res.Payment = &sess
	return res, nil
}

// MarkPaid records payment for the caller's own order. Repeating it on a
// paid order changes nothing and emits no event.
func (s *Service) MarkPaid(ctx context.Context, orderID, userID string) (*Order, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, apperr.ErrNotFound
	}
	changed, err := s.Store.MarkPaid(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if changed {
		s.Log.Info().Str("order_id", o.ID).Msg("order paid")
		s.publish(ctx, events.TopicOrderPaid, events.TypeOrderPaid, o.ID, events.OrderPaidPayload{
			OrderID:    o.ID,
			UserID:     o.UserID,
			PaymentRef: o.PaymentRef,
		})
		s.cacheStatus(ctx, o)
	}
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, id string, actor auth.Actor) (*Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.Validation(map[string]string{"id": "invalid order id"})
	}
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && o.UserID != actor.ID {
		return nil, apperr.New(apperr.CodeNotAuthorized, "not authorized to view this order")
	}
	return o, nil
}

// Status serves the cached status document, falling back to the database.
func (s *Service) Status(ctx context.Context, id string, actor auth.Actor) (StatusView, error) {
	if _, err := uuid.Parse(id); err != nil {
		return StatusView{}, apperr.Validation(map[string]string{"id": "invalid order id"})
	}
	var v StatusView
	if s.Cache != nil {
		ok, err := s.Cache.Get(ctx, fmt.Sprintf(redisx.KeyOrderStatus, id), &v)
		if err != nil {
			s.Log.Warn().Err(err).Str("order_id", id).Msg("status cache read failed")
		}
		if ok {
			if !actor.IsAdmin() && v.UserID != actor.ID {
				return StatusView{}, apperr.New(apperr.CodeNotAuthorized, "not authorized to view this order")
			}
			return v, nil
		}
	}
	o, err := s.GetOrder(ctx, id, actor)
	if err != nil {
		return StatusView{}, err
	}
	s.cacheStatus(ctx, o)
	return viewOf(o), nil
}

func (s *Service) ListMine(ctx context.Context, userID string) ([]Order, error) {
	return s.Store.ListOrdersByUser(ctx, userID)
}

func (s *Service) ListAll(ctx context.Context) ([]Order, error) {
	return s.Store.ListOrders(ctx)
}

func (s *Service) UpdateStatus(ctx context.Context, id string, to Status, actor auth.Actor) (*Order, error) {
	if !actor.IsAdmin() {
		return nil, apperr.New(apperr.CodeNotAuthorized, "admin access required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.Validation(map[string]string{"id": "invalid order id"})
	}
	if !to.Valid() {
		return nil, apperr.Validation(map[string]string{"status": "unknown order status"})
	}
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	from := o.OrderStatus
	if !CanTransition(from, to) {
		return nil, apperr.New(apperr.CodeInvalidTransition, "invalid status transition from %s to %s", from, to)
	}
	entry := StatusEntry{Status: to, ChangedBy: actor.ID, ChangedAt: s.now()}
	if err := s.Store.TransitionStatus(ctx, id, from, entry); err != nil {
		return nil, err
	}
	o.OrderStatus = to
	o.StatusHistory = append(o.StatusHistory, entry)
	o.UpdatedAt = entry.ChangedAt

	s.Log.Info().Str("order_id", id).Str("from", string(from)).Str("to", string(to)).Str("by", actor.ID).Msg("order status changed")
	s.publish(ctx, events.TopicOrderStatusChanged, events.TypeOrderStatusChanged, id, events.StatusChangedPayload{
		ID:        id,
		OwnerID:   o.UserID,
		From:      string(from),
		To:        string(to),
		ChangedBy: actor.ID,
		ChangedAt: entry.ChangedAt,
	})
	s.cacheStatus(ctx, o)
	return o, nil
}

func (s *Service) publishPlaced(ctx context.Context, o *Order) {
	items := make([]events.LineItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, events.LineItem{ProductID: it.ProductID, Quantity: it.Quantity, PriceAtOrder: it.PriceAtOrder})
	}
	s.publish(ctx, events.TopicOrderPlaced, events.TypeOrderPlaced, o.ID, events.OrderPlacedPayload{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Items:         items,
		Total:         o.Total,
		PaymentMethod: string(o.PaymentMethod),
		Status:        string(o.OrderStatus),
	})
}

// publish is best effort: the state change is already committed.
func (s *Service) publish(ctx context.Context, topic, eventType, id string, payload any) {
	if s.Events == nil {
		return
	}
	env, err := events.New(ctx, eventType, s.Producer, id, payload)
	if err == nil {
		err = s.Events.Publish(ctx, topic, env)
	}
	if err != nil {
		s.Log.Error().Err(err).Str("event_type", eventType).Str("id", id).Msg("publish failed")
	}
}

func (s *Service) cacheStatus(ctx context.Context, o *Order) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Put(ctx, fmt.Sprintf(redisx.KeyOrderStatus, o.ID), viewOf(o)); err != nil {
		s.Log.Warn().Err(err).Str("order_id", o.ID).Msg("status cache write failed")
	}
}

func viewOf(o *Order) StatusView {
	return StatusView{
		ID:            o.ID,
		UserID:        o.UserID,
		Status:        o.OrderStatus,
		PaymentStatus: o.PaymentStatus,
		UpdatedAt:     o.UpdatedAt,
	}
}
