// Package tracking ingests driver positions and serves live delivery tracking.
package tracking

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/courier-backend/internal/orders"
	"github.com/angelmondragon/courier-backend/pkg/config"
	"github.com/angelmondragon/courier-backend/pkg/db/models"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
	"github.com/angelmondragon/courier-backend/pkg/geo"
)

const (
	defaultETAThreshold = 5
	defaultRouteLimit   = 100
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// LocationInput is a single driver position report.
type LocationInput struct {
	OrderID   uuid.UUID `json:"orderId" validate:"required"`
	Latitude  *float64  `json:"latitude" validate:"required"`
	Longitude *float64  `json:"longitude" validate:"required"`
}

type LocationResult struct {
	DistanceToDestination float64 `json:"distanceToDestination"`
	EstimatedTime         int     `json:"estimatedTime"`
}

type RoutePoint struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	RecordedAt time.Time `json:"recordedAt"`
}

type DriverPosition struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TrackingView is what the customer sees while an order is in flight.
type TrackingView struct {
	OrderID          uuid.UUID         `json:"orderId"`
	OrderNumber      string            `json:"orderNumber"`
	Status           enums.OrderStatus `json:"status"`
	Store            geo.Point         `json:"storeLocation"`
	Destination      *geo.Point        `json:"deliveryLocation,omitempty"`
	DriverID         *uuid.UUID        `json:"driverId,omitempty"`
	Driver           *DriverPosition   `json:"driverLocation,omitempty"`
	EstimatedMinutes *int              `json:"estimatedMinutes,omitempty"`
	Route            []RoutePoint      `json:"route"`
}

type Service interface {
	UpdateLocation(ctx context.Context, driverID uuid.UUID, input LocationInput) (*LocationResult, error)
	Track(ctx context.Context, customerID, orderID uuid.UUID) (*TrackingView, error)
}

type service struct {
	db     *gorm.DB
	orders orders.Repository
	tx     txRunner
	cfg    config.TrackingConfig
	now    func() time.Time
}

func NewService(db *gorm.DB, repo orders.Repository, tx txRunner, cfg config.TrackingConfig) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database required")
	}
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if cfg.AverageSpeedKMH <= 0 {
		cfg.AverageSpeedKMH = geo.DefaultSpeedKMH
	}
	if cfg.ETAWriteThreshold <= 0 {
		cfg.ETAWriteThreshold = defaultETAThreshold
	}
	if cfg.RouteHistoryLimit <= 0 {
		cfg.RouteHistoryLimit = defaultRouteLimit
	}
	return &service{db: db, orders: repo, tx: tx, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *service) UpdateLocation(ctx context.Context, driverID uuid.UUID, input LocationInput) (*LocationResult, error) {
	if driverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.Latitude == nil || input.Longitude == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "latitude and longitude required")
	}
	position := geo.Point{Lat: *input.Latitude, Lng: *input.Longitude}
	if err := position.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}

	var result LocationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.WithTx(tx).FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if !order.IsAssignedTo(driverID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order is not assigned to this driver")
		}
		if order.Status != enums.OrderStatusOutForDelivery {
			return pkgerrors.New(pkgerrors.CodeConflict, "order is not out for delivery").
				WithDetails(map[string]any{"status": order.Status})
		}
		if !order.HasDestination() {
			return pkgerrors.New(pkgerrors.CodeValidation, "order has no delivery coordinates")
		}

		distance := geo.DistanceKM(position, geo.Point{Lat: *order.DeliveryLat, Lng: *order.DeliveryLng})
		eta := geo.ETAMinutes(distance, s.cfg.AverageSpeedKMH)
		now := s.now()

		point := &models.DriverLocation{
			OrderID:    order.ID,
			DriverID:   driverID,
			Latitude:   position.Lat,
			Longitude:  position.Lng,
			RecordedAt: now,
		}
		if err := tx.WithContext(ctx).Create(point).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append route point")
		}

		updates := map[string]any{
			"driver_lat":         position.Lat,
			"driver_lng":         position.Lng,
			"driver_location_at": now,
			"updated_at":         now,
		}
		if s.etaChanged(order.EstimatedMinutes, eta) {
			updates["estimated_minutes"] = eta
		}
		if err := tx.WithContext(ctx).Model(&models.Order{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store driver position")
		}

		result = LocationResult{DistanceToDestination: math.Round(distance*100) / 100, EstimatedTime: eta}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// etaChanged avoids rewriting estimated_minutes for small fluctuations.
func (s *service) etaChanged(stored *int, eta int) bool {
	if stored == nil {
		return true
	}
	diff := eta - *stored
	if diff < 0 {
		diff = -diff
	}
	return diff > s.cfg.ETAWriteThreshold
}

func (s *service) Track(ctx context.Context, customerID, orderID uuid.UUID) (*TrackingView, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another customer")
	}
	if !order.Status.IsTrackable() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order is not trackable").
			WithDetails(map[string]any{"status": order.Status})
	}
	store, err := s.orders.FindStore(ctx, order.StoreID)
	if err != nil {
		return nil, err
	}

	route, err := s.route(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	view := &TrackingView{
		OrderID:          order.ID,
		OrderNumber:      order.OrderNumber,
		Status:           order.Status,
		Store:            geo.Point{Lat: store.Latitude, Lng: store.Longitude},
		DriverID:         order.DriverID,
		EstimatedMinutes: order.EstimatedMinutes,
		Route:            route,
	}
	if order.HasDestination() {
		view.Destination = &geo.Point{Lat: *order.DeliveryLat, Lng: *order.DeliveryLng}
	}
	if order.DriverLat != nil && order.DriverLng != nil && order.DriverLocationAt != nil {
		view.Driver = &DriverPosition{Latitude: *order.DriverLat, Longitude: *order.DriverLng, UpdatedAt: *order.DriverLocationAt}
	}
	return view, nil
}

// route returns the most recent points in chronological order.
func (s *service) route(ctx context.Context, orderID uuid.UUID) ([]RoutePoint, error) {
	var rows []models.DriverLocation
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("recorded_at DESC").
		Limit(s.cfg.RouteHistoryLimit).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load route")
	}
	points := make([]RoutePoint, len(rows))
	for i, row := range rows {
		points[len(rows)-1-i] = RoutePoint{Latitude: row.Latitude, Longitude: row.Longitude, RecordedAt: row.RecordedAt}
	}
	return points, nil
}
