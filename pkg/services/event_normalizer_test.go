package services

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

var normalizerNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func parseExtraction(t *testing.T, body string) ExtractionResponse {
	t.Helper()
	var raw ExtractionResponse
	require.NoError(t, json.Unmarshal([]byte(body), &raw))
	return raw
}

func TestNormalizeExtraction_FullObject(t *testing.T) {
	res := NormalizeExtraction(parseExtraction(t, `{
		"type": "income",
		"date": "2026-03-01T18:30:00+02:00",
		"description": "Výplata",
		"amount": 52000.5,
		"currency": "eur",
		"explain": "mzda",
		"confidence": 0.8
	}`), normalizerNow)

	require.NoError(t, res.Err)
	ev := res.Event
	assert.Equal(t, models.EventTypeIncome, ev.Type)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), ev.EffectiveAt)
	assert.Equal(t, "Výplata", ev.Description)
	assert.Equal(t, "52000.5", ev.Amount.String())
	assert.Equal(t, "EUR", ev.Currency)
	assert.Equal(t, "mzda", ev.Explain)
	require.NotNil(t, ev.Confidence)
	assert.InDelta(t, 0.8, *ev.Confidence, 1e-9)
}

func TestNormalizeExtraction_MinimalObjectUsesDefaults(t *testing.T) {
	// "40 kafe" with a model that only returned the amount.
	res := NormalizeExtraction(parseExtraction(t, `{"amount": 40}`), normalizerNow)

	require.NoError(t, res.Err)
	ev := res.Event
	assert.Equal(t, models.EventTypeExpense, ev.Type)
	assert.Equal(t, "CZK", ev.Currency)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), ev.EffectiveAt)
	assert.Equal(t, DefaultDescription, ev.Description)
	assert.Equal(t, DefaultExplain, ev.Explain)
	assert.Nil(t, ev.Confidence)
	assert.True(t, ev.Amount.IsPositive())
}

func TestNormalizeExtraction_UnknownTypeIsExpense(t *testing.T) {
	for _, typ := range []string{`"refund"`, `""`, `null`, `42`} {
		res := NormalizeExtraction(parseExtraction(t, `{"amount": 1, "type": `+typ+`}`), normalizerNow)
		require.NoError(t, res.Err)
		assert.Equal(t, models.EventTypeExpense, res.Event.Type, typ)
	}

	res := NormalizeExtraction(parseExtraction(t, `{"amount": 1, "type": " Income "}`), normalizerNow)
	assert.Equal(t, models.EventTypeIncome, res.Event.Type)
}

func TestNormalizeExtraction_AmountAsString(t *testing.T) {
	res := NormalizeExtraction(parseExtraction(t, `{"amount": "1 250,50"}`), normalizerNow)
	require.NoError(t, res.Err)
	assert.Equal(t, "1250.5", res.Event.Amount.String())
}

func TestNormalizeExtraction_RoundsAmountToCents(t *testing.T) {
	res := NormalizeExtraction(parseExtraction(t, `{"amount": 12.345}`), normalizerNow)
	require.NoError(t, res.Err)
	assert.Equal(t, "12.35", res.Event.Amount.String())

	res = NormalizeExtraction(parseExtraction(t, `{"amount": "0,005"}`), normalizerNow)
	require.NoError(t, res.Err)
	assert.Equal(t, "0.01", res.Event.Amount.String())
}

func TestNormalizeExtraction_InvalidAmount(t *testing.T) {
	for _, amount := range []string{`0`, `-40`, `null`, `"abc"`, `"NaN"`, `"Inf"`, `true`, `0.004`, `1e17`} {
		res := NormalizeExtraction(parseExtraction(t, `{"amount": `+amount+`}`), normalizerNow)
		assert.Nil(t, res.Event, amount)
		assert.ErrorIs(t, res.Err, ErrInvalidAmount, amount)
		assert.ErrorIs(t, res.Err, apperrors.ErrInvalidInput, amount)
	}

	res := NormalizeExtraction(ExtractionResponse{}, normalizerNow)
	assert.ErrorIs(t, res.Err, ErrInvalidAmount, "missing amount")
}

func TestNormalizeExtraction_Dates(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{`"2026-02-28"`, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)},
		{`"2026-02-28T23:30:00-02:00"`, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{`"2026-02-28T10:00:00"`, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)},
		{`"2026-02-28 10:00:00"`, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)},
		{`"včera"`, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)},
		{`null`, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		res := NormalizeExtraction(parseExtraction(t, `{"amount": 1, "date": `+tt.in+`}`), normalizerNow)
		require.NoError(t, res.Err, tt.in)
		assert.Equal(t, tt.want, res.Event.EffectiveAt, tt.in)
	}
}

func TestNormalizeExtraction_TruncatesText(t *testing.T) {
	long := strings.Repeat("ž", 600)
	res := NormalizeExtraction(parseExtraction(t, `{"amount": 1, "description": "`+long+`", "explain": "`+long+`"}`), normalizerNow)
	require.NoError(t, res.Err)
	assert.Equal(t, 500, len([]rune(res.Event.Description)))
	assert.Equal(t, 500, len([]rune(res.Event.Explain)))
}

func TestNormalizeExtraction_Confidence(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{`1.7`, ptrFloat(1)},
		{`-0.2`, ptrFloat(0)},
		{`"0.5"`, ptrFloat(0.5)},
		{`"NaN"`, nil},
		{`null`, nil},
		{`"high"`, nil},
	}
	for _, tt := range tests {
		res := NormalizeExtraction(parseExtraction(t, `{"amount": 1, "confidence": `+tt.in+`}`), normalizerNow)
		require.NoError(t, res.Err)
		if tt.want == nil {
			assert.Nil(t, res.Event.Confidence, tt.in)
			continue
		}
		require.NotNil(t, res.Event.Confidence, tt.in)
		assert.InDelta(t, *tt.want, *res.Event.Confidence, 1e-9, tt.in)
	}
}

func TestClampConfidence(t *testing.T) {
	assert.Nil(t, ClampConfidence(math.NaN()))
	assert.Nil(t, ClampConfidence(math.Inf(1)))
	assert.Nil(t, ClampConfidencePtr(nil))
	assert.Equal(t, 1.0, *ClampConfidencePtr(ptrFloat(3)))
}

func TestTruncateToUTCDay(t *testing.T) {
	prague := time.FixedZone("CET", 3600)
	in := time.Date(2026, 1, 1, 0, 30, 0, 0, prague)
	assert.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), TruncateToUTCDay(in))
}

func ptrFloat(v float64) *float64 { return &v }
