package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/angelmondragon/courier-backend/api/responses"
	"github.com/angelmondragon/courier-backend/internal/payments"
	"github.com/angelmondragon/courier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
	"github.com/angelmondragon/courier-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

type signatureVerifier interface {
	Verify(ctx context.Context, sig payments.Signature, body []byte) error
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, webhookID string) (bool, error)
	Delete(ctx context.Context, webhookID string) error
}

type outcomeCounter interface {
	Inc(eventType, outcome string)
}

type webhookService interface {
	HandleWebhook(ctx context.Context, webhookID string, body []byte) (enums.PaymentEventOutcome, error)
	WebhookSettled(ctx context.Context, webhookID string) (bool, error)
}

// PaymentWebhook verifies and applies payment processor deliveries.
func PaymentWebhook(svc webhookService, verifier signatureVerifier, guard webhookGuard, counter outcomeCounter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		if verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook verifier unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sig := payments.Signature{
			ID:        r.Header.Get(payments.HeaderWebhookID),
			Timestamp: r.Header.Get(payments.HeaderWebhookTimestamp),
			Value:     r.Header.Get(payments.HeaderWebhookSignature),
		}
		if logg != nil && sig.ID != "" {
			ctx = logg.WithField(ctx, "webhook_id", sig.ID)
		}
		if err := verifier.Verify(ctx, sig, body); err != nil {
			if logg != nil {
				logg.SecurityEvent(ctx, "payment webhook rejected", err)
			}
			count(counter, "unknown", "rejected")
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if sig.ID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook id header required"))
			return
		}

		eventType := peekEventType(body)
		alreadyProcessed, err := guard.CheckAndMark(ctx, sig.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			settled, err := svc.WebhookSettled(ctx, sig.ID)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if settled {
				count(counter, eventType, string(enums.PaymentEventDuplicate))
				responses.WriteSuccess(w, map[string]string{"outcome": string(enums.PaymentEventDuplicate)})
				return
			}
			// Marked but never recorded: the earlier attempt is still running or
			// died before releasing the mark. The service transaction decides.
			if logg != nil {
				logg.Warn(ctx, "webhook marked but not settled; processing again")
			}
		}

		outcome, err := svc.HandleWebhook(ctx, sig.ID, body)
		if err != nil {
			// The client may already be gone; the release must still land or
			// every retry of this id is answered as a duplicate.
			if delErr := guard.Delete(context.WithoutCancel(ctx), sig.ID); delErr != nil && logg != nil {
				logg.Error(ctx, "failed to release webhook guard", delErr)
			}
			if outcome == "" {
				outcome = "error"
			}
			count(counter, eventType, string(outcome))
			responses.WriteError(ctx, logg, w, err)
			return
		}

		count(counter, eventType, string(outcome))
		responses.WriteSuccess(w, map[string]string{"outcome": string(outcome)})
	}
}

// peekEventType reads the type for metric labels only; the service parses and
// validates the full body.
func peekEventType(body []byte) string {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Type == "" {
		return "unknown"
	}
	switch envelope.Type {
	case payments.EventPaymentSucceeded, payments.EventPaymentFailed:
		return envelope.Type
	default:
		return "other"
	}
}

func count(counter outcomeCounter, eventType, outcome string) {
	if counter != nil {
		counter.Inc(eventType, outcome)
	}
}
