package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/courier-backend/api/middleware"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
)

func currentUser(r *http.Request) (uuid.UUID, error) {
	userID, ok := middleware.UserUUIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return userID, nil
}
