package webhook

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidSignature is returned when a payload fails verification.
	// Nothing is mutated for such a payload.
	ErrInvalidSignature = errors.New("webhook: invalid signature")

	// ErrMalformedPayload is returned when a verified payload lacks the
	// data needed to reconcile it.
	ErrMalformedPayload = errors.New("webhook: malformed event payload")
)

// ValidationError describes one missing or invalid payload field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("webhook: malformed event payload: %s: %s", e.Field, e.Message)
}

// Unwrap makes errors.Is(err, ErrMalformedPayload) hold.
func (e *ValidationError) Unwrap() error { return ErrMalformedPayload }

// Verifier authenticates a raw delivery and decodes it.
type Verifier interface {
	VerifyWebhook(payload []byte, signature string) (*Event, error)
}

// Event is a verified, provider-agnostic notification.
type Event struct {
	ID        string
	Provider  string
	RawType   string
	Canonical CanonicalEvent
	CreatedAt time.Time
	Livemode  bool

	Payment      *PaymentPayload
	Subscription *SubscriptionSnapshot

	// SkipReason is set by providers for deliveries another event type
	// already accounts for.
	SkipReason string
}

// PaymentKind is the provider object a payment payload was read from.
type PaymentKind string

const (
	KindInvoice         PaymentKind = "invoice"
	KindInvoicePayment  PaymentKind = "invoice_payment"
	KindPaymentIntent   PaymentKind = "payment_intent"
	KindCheckoutSession PaymentKind = "checkout_session"
)

// Checkout modes.
const (
	CheckoutModePayment      = "payment"
	CheckoutModeSubscription = "subscription"
)

// BillingReasonCycle marks a renewal charge.
const BillingReasonCycle = "subscription_cycle"

// PaymentPayload describes one charge.
type PaymentPayload struct {
	Kind                   PaymentKind
	ProviderPaymentID      string
	CheckoutSessionID      string
	InvoiceID              string
	ProviderSubscriptionID string
	CheckoutMode           string

	Amount        int64
	Currency      string
	BillingReason string

	InvoiceURL    string
	InvoicePDFURL string
	ReceiptURL    string

	FailureReason string
	NextRetryAt   *time.Time
	PaidAt        *time.Time

	Correlation Correlation
	Metadata    map[string]string
}

// IsRenewal reports whether the charge renews an existing subscription.
func (p *PaymentPayload) IsRenewal() bool {
	return p.BillingReason == BillingReasonCycle
}

// IsSubscription reports whether the charge pays for a plan.
func (p *PaymentPayload) IsSubscription() bool {
	if p.Correlation.ProductKey != "" {
		return false
	}
	return p.ProviderSubscriptionID != "" || p.Correlation.PlanKey != ""
}

// SubscriptionSnapshot is the provider view of a subscription.
type SubscriptionSnapshot struct {
	ID                 string
	Status             string
	CancelAtPeriodEnd  bool
	TrialStart         *time.Time
	TrialEnd           *time.Time
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAt           *time.Time
	CanceledAt         *time.Time
	EndedAt            *time.Time
	PriceID            string

	Correlation Correlation
	Metadata    map[string]string
}

// TrialDays returns the trial length in whole days, zero without a trial.
func (s *SubscriptionSnapshot) TrialDays() int {
	if s.TrialStart == nil || s.TrialEnd == nil || !s.TrialEnd.After(*s.TrialStart) {
		return 0
	}
	return int(s.TrialEnd.Sub(*s.TrialStart).Round(time.Hour).Hours() / 24)
}

// Correlation ties a provider object to an internal user and plan or
// product. Providers carry it in object metadata.
type Correlation struct {
	UserID     string `json:"userId" validate:"required"`
	PlanKey    string `json:"planKey,omitempty" validate:"required_without=ProductKey"`
	ProductKey string `json:"productKey,omitempty" validate:"required_without=PlanKey"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that c identifies a user and a plan or product.
func (c Correlation) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{Field: fe.Field(), Message: describeTag(fe.Tag())}
	}
	return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
}

// ValidateFor additionally requires the key matching the payment kind.
func (c Correlation) ValidateFor(subscription bool) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if subscription && c.PlanKey == "" {
		return &ValidationError{Field: "PlanKey", Message: "required for subscription payments"}
	}
	if !subscription && c.ProductKey == "" {
		return &ValidationError{Field: "ProductKey", Message: "required for one-time payments"}
	}
	return nil
}

// Merge fills empty fields of c from other.
func (c Correlation) Merge(other Correlation) Correlation {
	if c.UserID == "" {
		c.UserID = other.UserID
	}
	if c.PlanKey == "" && c.ProductKey == "" {
		c.PlanKey = other.PlanKey
		c.ProductKey = other.ProductKey
	}
	return c
}

// Metadata keys carrying correlation, in lookup order.
var (
	userIDKeys     = []string{"userId", "user_id"}
	planKeyKeys    = []string{"planKey", "plan_key"}
	productKeyKeys = []string{"productKey", "product_key"}
)

// CorrelationFromMetadata reads correlation from the first metadata map
// carrying each key.
func CorrelationFromMetadata(sources ...map[string]string) Correlation {
	return Correlation{
		UserID:     lookup(sources, userIDKeys),
		PlanKey:    lookup(sources, planKeyKeys),
		ProductKey: lookup(sources, productKeyKeys),
	}
}

func lookup(sources []map[string]string, keys []string) string {
	for _, md := range sources {
		for _, k := range keys {
			if v := strings.TrimSpace(md[k]); v != "" {
				return v
			}
		}
	}
	return ""
}

func describeTag(tag string) string {
	switch tag {
	case "required":
		return "required"
	case "required_without":
		return "plan key or product key is required"
	default:
		return "failed " + tag
	}
}
