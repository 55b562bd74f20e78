package service

import (
	"context"
	"time"

	"lending-service/internal/clock"
	"lending-service/internal/errs"
	"lending-service/internal/models"
	"lending-service/internal/util"

	"go.uber.org/zap"
)

// DeliveryPlanStore is the persistence the delivery service needs.
type DeliveryPlanStore interface {
	GetActiveDeliveryPlan(ctx context.Context, userID int64) (*models.DeliveryPlan, error)
	UpsertDeliveryPlan(ctx context.Context, plan *models.DeliveryPlan) error
}

// DeliveryService manages the single active delivery plan per user and
// the delivery-date arithmetic orders depend on.
type DeliveryService struct {
	store       DeliveryPlanStore
	addresses   AddressBook
	clock       clock.Clock
	minLeadDays int
	cycleDays   int
	logger      *zap.Logger
}

// NewDeliveryService creates a new delivery service.
func NewDeliveryService(store DeliveryPlanStore, addresses AddressBook, clk clock.Clock, minLeadDays, cycleDays int) *DeliveryService {
	return &DeliveryService{
		store:       store,
		addresses:   addresses,
		clock:       clk,
		minLeadDays: minLeadDays,
		cycleDays:   cycleDays,
		logger:      util.GetLogger(),
	}
}

// UpsertPlan replaces the user's plan, snapshotting their current
// default address.
func (s *DeliveryService) UpsertPlan(ctx context.Context, userID int64, day time.Weekday) (*models.DeliveryPlan, error) {
	ctx, span := util.StartSpan(ctx, "DeliveryService.UpsertPlan")
	defer span.End()

	if day < time.Sunday || day > time.Saturday {
		return nil, errs.New(errs.KindInvalidRequest, "invalid delivery day: %d", day)
	}
	address, err := s.addresses.DefaultAddress(ctx, userID)
	if err != nil {
		return nil, err
	}

	plan := &models.DeliveryPlan{
		UserID:          userID,
		DeliveryDay:     day,
		DeliveryAddress: address,
		Status:          models.DeliveryPlanActive,
	}
	if err := s.store.UpsertDeliveryPlan(ctx, plan); err != nil {
		return nil, err
	}
	s.logger.Info("Delivery plan upserted",
		zap.Int64("user_id", userID),
		zap.Int("delivery_day", int(day)))
	return plan, nil
}

// GetPlan returns the user's active plan.
func (s *DeliveryService) GetPlan(ctx context.Context, userID int64) (*models.DeliveryPlan, error) {
	return s.store.GetActiveDeliveryPlan(ctx, userID)
}

// DeliveryDates computes the estimated delivery date and due date for an
// order placed now under the given plan. The cycle length comes from
// the subscription when set, otherwise the configured default.
func (s *DeliveryService) DeliveryDates(plan *models.DeliveryPlan, subscriptionCycleDays int) (estimated, due time.Time) {
	cycle := subscriptionCycleDays
	if cycle <= 0 {
		cycle = s.cycleDays
	}
	estimated = NextDeliveryDate(s.clock.Now(), plan.DeliveryDay, s.minLeadDays)
	due = estimated.AddDate(0, 0, cycle)
	return estimated, due
}

// NextDeliveryDate finds the next occurrence of the weekday from now,
// skipping a week when fewer than minLeadDays remain before it.
func NextDeliveryDate(now time.Time, day time.Weekday, minLeadDays int) time.Time {
	now = now.UTC()
	daysAhead := (int(day) - int(now.Weekday()) + 7) % 7
	if daysAhead < minLeadDays {
		daysAhead += 7
	}
	next := now.AddDate(0, 0, daysAhead)
	return time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, time.UTC)
}
