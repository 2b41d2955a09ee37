package orders

import (
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/courier-backend/pkg/db/models"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
)

// Actor identifies who is asking for a transition. StoreIDs lists the stores a
// vendor owns and is ignored for every other role.
type Actor struct {
	ID       uuid.UUID
	Role     enums.Role
	StoreIDs []uuid.UUID
}

// SystemActor is used by the payment bridge and scheduled jobs.
func SystemActor() Actor {
	return Actor{Role: enums.RoleSystem}
}

type edge struct {
	from enums.OrderStatus
	to   enums.OrderStatus
}

// lifecycle maps every non-admin edge to the single role allowed to take it.
var lifecycle = map[edge]enums.Role{
	{enums.OrderStatusPending, enums.OrderStatusConfirmed}:        enums.RoleSystem,
	{enums.OrderStatusPending, enums.OrderStatusCancelled}:        enums.RoleSystem,
	{enums.OrderStatusConfirmed, enums.OrderStatusPreparing}:      enums.RoleVendor,
	{enums.OrderStatusPreparing, enums.OrderStatusReady}:          enums.RoleVendor,
	{enums.OrderStatusReady, enums.OrderStatusOutForDelivery}:     enums.RoleDriver,
	{enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered}: enums.RoleDriver,
}

// Machine validates order status transitions. It holds no state.
type Machine struct{}

// Check reports whether actor may move order to target. It never mutates order.
func (Machine) Check(actor Actor, order *models.Order, target enums.OrderStatus, hasProof bool) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if !target.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown order status").
			WithDetails(map[string]any{"status": target})
	}
	from := order.Status
	if from.IsTerminal() {
		return illegalTransition(from, target, "order is already closed")
	}
	if from == target {
		return illegalTransition(from, target, "order already has this status")
	}

	if actor.Role == enums.RoleAdmin {
		if target == enums.OrderStatusDelivered {
			return illegalTransition(from, target, "delivery can only be completed by the assigned driver")
		}
		return nil
	}

	allowed, ok := lifecycle[edge{from: from, to: target}]
	if !ok {
		return illegalTransition(from, target, "transition not allowed")
	}
	if allowed != actor.Role {
		return pkgerrors.New(pkgerrors.CodeForbidden, "actor may not perform this transition")
	}

	switch actor.Role {
	case enums.RoleVendor:
		if !slices.Contains(actor.StoreIDs, order.StoreID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another store")
		}
	case enums.RoleDriver:
		if !order.IsAssignedTo(actor.ID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order is not assigned to this driver")
		}
		if target == enums.OrderStatusDelivered && !hasProof {
			return pkgerrors.New(pkgerrors.CodeValidation, "proof of delivery required")
		}
	}
	return nil
}

func illegalTransition(from, to enums.OrderStatus, msg string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, msg).
		WithDetails(map[string]any{"from": from, "to": to})
}
