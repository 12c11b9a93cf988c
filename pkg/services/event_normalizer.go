package services

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-ledger/pkg/logging"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

// Defaults applied when the model leaves a field empty.
const (
	DefaultCurrency    = "CZK"
	DefaultDescription = "Bez popisu"
	DefaultExplain     = "AI extrakce"

	maxTextLength = 500
)

// ErrInvalidAmount is returned when an extracted amount is missing, not finite or not positive.
// The message is stored on the failed raw prompt.
var ErrInvalidAmount = fmt.Errorf("%w: AI nevrátilo platnou částku", apperrors.ErrInvalidInput)

// ExtractionResponse is the loosely typed object the model returns for one prompt.
// Every field is kept raw so numbers sent as strings (and the reverse) still decode.
type ExtractionResponse struct {
	Type        json.RawMessage `json:"type"`
	Date        json.RawMessage `json:"date"`
	Description json.RawMessage `json:"description"`
	Amount      json.RawMessage `json:"amount"`
	Currency    json.RawMessage `json:"currency"`
	Explain     json.RawMessage `json:"explain"`
	Confidence  json.RawMessage `json:"confidence"`
}

// NormalizedEvent holds the canonical values of an extracted event.
type NormalizedEvent struct {
	Type        models.EventType
	EffectiveAt time.Time
	Description string
	Amount      decimal.Decimal
	Currency    string
	Explain     string
	Confidence  *float64
}

// NormalizationResult is either an Event or an Err, never both.
type NormalizationResult struct {
	Event *NormalizedEvent
	Err   error
}

// NormalizeExtraction canonicalizes raw model output. now is the fallback date.
func NormalizeExtraction(raw ExtractionResponse, now time.Time) NormalizationResult {
	amount, ok := jsonutil.FlexibleNumberValue(raw.Amount)
	if !ok || math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return NormalizationResult{Err: ErrInvalidAmount}
	}
	// Stored as numeric(18,2); a value that rounds to zero is not an amount.
	stored := decimal.NewFromFloat(amount).Round(models.AmountScale)
	if !stored.IsPositive() || stored.GreaterThanOrEqual(models.MaxAmount) {
		return NormalizationResult{Err: ErrInvalidAmount}
	}

	ev := &NormalizedEvent{
		Type:        normalizeType(jsonutil.FlexibleStringValue(raw.Type)),
		EffectiveAt: TruncateToUTCDay(parseEventDate(jsonutil.FlexibleStringValue(raw.Date), now)),
		Description: defaultText(jsonutil.FlexibleStringValue(raw.Description), DefaultDescription),
		Amount:      stored,
		Currency:    normalizeCurrency(jsonutil.FlexibleStringValue(raw.Currency)),
		Explain:     defaultText(jsonutil.FlexibleStringValue(raw.Explain), DefaultExplain),
	}
	if c, ok := jsonutil.FlexibleNumberValue(raw.Confidence); ok {
		ev.Confidence = ClampConfidence(c)
	}
	return NormalizationResult{Event: ev}
}

func normalizeType(s string) models.EventType {
	t := models.EventType(strings.ToLower(strings.TrimSpace(s)))
	if t.IsValid() {
		return t
	}
	return models.EventTypeExpense
}

func normalizeCurrency(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DefaultCurrency
	}
	return s
}

var eventDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.RFC1123Z,
}

// ParseEventDate parses the ISO-like layouts models and forms produce.
func ParseEventDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range eventDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseEventDate is ParseEventDate with now as the fallback.
func parseEventDate(s string, now time.Time) time.Time {
	if t, ok := ParseEventDate(s); ok {
		return t
	}
	return now
}

// defaultText truncates s to the stored length and substitutes def when it is blank.
func defaultText(s, def string) string {
	s = logging.TruncateRunes(strings.TrimSpace(s), maxTextLength)
	if s == "" {
		return def
	}
	return s
}

// TruncateToUTCDay returns midnight UTC of t's UTC calendar day.
func TruncateToUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ClampConfidence limits v to [0, 1]. NaN and infinities yield nil.
func ClampConfidence(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	v = math.Max(0, math.Min(1, v))
	return &v
}

// ClampConfidencePtr is ClampConfidence for optional values.
func ClampConfidencePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return ClampConfidence(*v)
}
