// Package checkout prices carts, previews coupon discounts and commits
// orders against the redemption ledger.
package checkout

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-discounts/internal/domain/coupon"
	"github.com/xenking/kart-discounts/internal/domain/product"
)

const instrumentationName = "github.com/xenking/kart-discounts/internal/domain/checkout"

// Service encapsulates checkout business logic.
type Service struct {
	products product.Repository
	rules    coupon.Repository
	usage    coupon.UsageRepository
	ledger   Ledger
	now      func() time.Time

	tracer      trace.Tracer
	evaluations metric.Int64Counter
	rejections  metric.Int64Counter
}

// NewService creates a checkout Service with the required dependencies.
func NewService(
	products product.Repository,
	rules coupon.Repository,
	usage coupon.UsageRepository,
	ledger Ledger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*Service, error) {
	meter := mp.Meter(instrumentationName)

	evaluations, err := meter.Int64Counter("discount.evaluations",
		metric.WithDescription("Coupon evaluations by operation"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create evaluations counter")
	}
	rejections, err := meter.Int64Counter("discount.rejections",
		metric.WithDescription("Rejected coupon codes by reason"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create rejections counter")
	}

	return &Service{
		products:    products,
		rules:       rules,
		usage:       usage,
		ledger:      ledger,
		now:         time.Now,
		tracer:      tp.Tracer(instrumentationName),
		evaluations: evaluations,
		rejections:  rejections,
	}, nil
}

// Preview prices the cart and evaluates its codes without consuming them.
func (s *Service) Preview(ctx context.Context, cart Cart) (_ coupon.Breakdown, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Preview")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	b, _, err := s.evaluate(ctx, "preview", cart)
	return b, err
}

// Commit re-evaluates the cart against freshly read counters and records the
// order, consuming every accepted code. When a code sold out in the meantime
// it returns *SoldOutError carrying a re-evaluation without that code.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Commit")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if len(req.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	if req.UserID == "" {
		return nil, ErrMissingUser
	}

	b, rules, err := s.evaluate(ctx, "commit", req.Cart)
	if err != nil {
		return nil, err
	}

	redemptions := make([]Redemption, len(b.Accepted))
	for i, a := range b.Accepted {
		rule := rules[a.Code]
		redemptions[i] = Redemption{
			Code:                  a.Code,
			MaxRedemptions:        rule.MaxRedemptions,
			MaxRedemptionsPerUser: rule.MaxRedemptionsPerUser,
			OneTime:               a.OneTime,
		}
	}

	o := &Order{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		IdempotencyKey: req.IdempotencyKey,
		Lines:          req.Lines,
		Breakdown:      b,
		CreatedAt:      s.now().UTC(),
	}
	span.SetAttributes(attribute.String("order.id", o.ID))

	if err := s.ledger.Redeem(ctx, o, redemptions); err != nil {
		var capErr *coupon.CapExceededError
		if errors.As(err, &capErr) {
			return nil, s.soldOut(ctx, req.Cart, capErr)
		}
		if errors.Is(err, ErrDuplicateOrder) {
			return nil, err
		}
		return nil, errors.Wrap(err, "redeem")
	}

	zctx.From(ctx).Info("Order committed",
		zap.String("order_id", o.ID),
		zap.Strings("codes", b.AcceptedCodes()),
		zap.Int64("total_cents", b.TotalCents),
	)
	return o, nil
}

// soldOut re-runs the evaluation without the exhausted code so the caller
// can show the customer what they would pay now.
func (s *Service) soldOut(ctx context.Context, cart Cart, capErr *coupon.CapExceededError) error {
	zctx.From(ctx).Info("Coupon sold out during commit",
		zap.String("code", capErr.Code),
		zap.Bool("per_user", capErr.PerUser),
	)

	cart.Codes = slices.DeleteFunc(slices.Clone(cart.Codes), func(c string) bool {
		return NormalizeCode(c) == capErr.Code
	})
	retry, _, err := s.evaluate(ctx, "retry", cart)
	if err != nil {
		return errors.Wrap(err, "re-evaluate after sold out")
	}
	return &SoldOutError{Code: capErr.Code, Retry: retry}
}

// evaluate loads catalog prices, rules and usage concurrently and runs the
// engine. It returns the rules it loaded so Commit can pass caps along.
func (s *Service) evaluate(ctx context.Context, op string, cart Cart) (coupon.Breakdown, map[string]coupon.Rule, error) {
	for _, l := range cart.Lines {
		if l.Quantity <= 0 {
			return coupon.Breakdown{}, nil, &InvalidQuantityError{LineID: l.ID}
		}
	}
	ordered, unique := normalizeCodes(cart.Codes)

	var (
		items []coupon.Item
		rules map[string]coupon.Rule
		usage map[string]coupon.Usage
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		items, err = s.priceLines(gctx, cart.Lines)
		return err
	})
	if len(unique) > 0 {
		g.Go(func() (err error) {
			if rules, err = s.rules.FindByCodes(gctx, unique); err != nil {
				return errors.Wrap(err, "find coupons")
			}
			return nil
		})
		g.Go(func() (err error) {
			if usage, err = s.usage.Snapshot(gctx, cart.UserID, unique); err != nil {
				return errors.Wrap(err, "usage snapshot")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return coupon.Breakdown{}, nil, err
	}

	b, err := coupon.Evaluate(coupon.Request{
		Now:      s.now(),
		Items:    items,
		Shipping: cart.Shipping,
		Rules:    rules,
		Codes:    ordered,
		Usage:    usage,
	})
	if err != nil {
		return coupon.Breakdown{}, nil, errors.Wrap(err, "evaluate coupons")
	}

	opAttr := attribute.String("op", op)
	s.evaluations.Add(ctx, 1, metric.WithAttributes(opAttr))
	for _, r := range b.Rejected {
		s.rejections.Add(ctx, 1, metric.WithAttributes(opAttr, attribute.String("reason", string(r.Reason))))
	}
	zctx.From(ctx).Debug("Coupons evaluated",
		zap.String("op", op),
		zap.Strings("accepted", b.AcceptedCodes()),
		zap.Int("rejected", len(b.Rejected)),
		zap.Int64("discount_cents", b.TotalDiscountCents),
	)
	return b, rules, nil
}

// priceLines resolves catalog prices and collections for every line with a
// single batch lookup.
func (s *Service) priceLines(ctx context.Context, lines []Line) ([]coupon.Item, error) {
	if len(lines) == 0 {
		return nil, nil
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]coupon.Item, len(lines))
	for i, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, &product.NotFoundError{ProductID: l.ProductID}
		}
		items[i] = coupon.Item{
			ID:             l.ID,
			ProductID:      p.ID,
			CollectionIDs:  coupon.NewSet(p.Collections...),
			Quantity:       l.Quantity,
			UnitPriceCents: p.PriceCents,
		}
	}
	return items, nil
}
