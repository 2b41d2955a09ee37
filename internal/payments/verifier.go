package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
	"github.com/angelmondragon/courier-backend/pkg/logger"
)

const (
	HeaderWebhookID        = "webhook-id"
	HeaderWebhookTimestamp = "webhook-timestamp"
	HeaderWebhookSignature = "webhook-signature"

	secretPrefix     = "whsec_"
	defaultTolerance = 300 * time.Second
)

// Signature carries the three signing headers of one webhook delivery.
type Signature struct {
	ID        string
	Timestamp string
	Value     string
}

// Verifier checks webhook-id/webhook-timestamp/webhook-signature headers
// against the shared secret.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
	logg      *logger.Logger
}

// NewVerifier decodes a whsec_ secret. An empty secret yields a verifier that
// accepts every delivery and logs a warning.
func NewVerifier(secret string, tolerance time.Duration, logg *logger.Logger) (*Verifier, error) {
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	v := &Verifier{tolerance: tolerance, now: time.Now, logg: logg}

	secret = strings.TrimSpace(secret)
	if secret == "" {
		return v, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
	if err != nil {
		return nil, errors.New("webhook secret is not valid base64")
	}
	v.secret = decoded
	return v, nil
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

func (v *Verifier) Verify(ctx context.Context, sig Signature, body []byte) error {
	if !v.Enabled() {
		if v.logg != nil {
			v.logg.Warn(ctx, "payment webhook secret not configured; skipping signature verification")
		}
		return nil
	}
	if sig.ID == "" || sig.Timestamp == "" || sig.Value == "" {
		return pkgerrors.New(pkgerrors.CodeIntegrity, "missing webhook signature headers")
	}
	ts, err := strconv.ParseInt(sig.Timestamp, 10, 64)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeIntegrity, err, "invalid webhook timestamp")
	}
	if skew := v.now().Sub(time.Unix(ts, 0)); skew > v.tolerance || skew < -v.tolerance {
		return pkgerrors.New(pkgerrors.CodeIntegrity, "webhook timestamp outside tolerance")
	}

	expected := v.sign(sig.ID, sig.Timestamp, body)
	for _, token := range strings.Fields(sig.Value) {
		candidate := token
		if _, after, ok := strings.Cut(token, ","); ok {
			candidate = after
		}
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeIntegrity, "webhook signature mismatch")
}

// Sign renders the v1 signature header value for a delivery.
func (v *Verifier) Sign(id, timestamp string, body []byte) string {
	return "v1," + v.sign(id, timestamp, body)
}

func (v *Verifier) sign(id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
