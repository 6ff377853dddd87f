package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	allowed := []struct {
		from  Status
		event Event
		to    Status
	}{
		{StatusPendingPayment, EventActivate, StatusActive},
		{StatusPendingPayment, EventCancel, StatusCancelled},
		{StatusPendingPayment, EventExpire, StatusExpired},
		{StatusActive, EventPause, StatusPaused},
		{StatusActive, EventHalt, StatusPaused},
		{StatusActive, EventCancel, StatusCancelled},
		{StatusActive, EventExpire, StatusExpired},
		{StatusPaused, EventResume, StatusActive},
		{StatusPaused, EventCancel, StatusCancelled},
		{StatusPaused, EventExpire, StatusExpired},
	}
	for _, tc := range allowed {
		next, err := Transition(tc.from, tc.event)
		assert.NoError(t, err, "%s + %s", tc.from, tc.event)
		assert.Equal(t, tc.to, next)
	}

	denied := []struct {
		from  Status
		event Event
	}{
		{StatusPendingPayment, EventPause},
		{StatusPendingPayment, EventResume},
		{StatusActive, EventActivate},
		{StatusActive, EventResume},
		{StatusPaused, EventActivate},
		{StatusPaused, EventPause},
		{StatusCancelled, EventActivate},
		{StatusCancelled, EventResume},
		{StatusCancelled, EventCancel},
		{StatusExpired, EventActivate},
		{StatusExpired, EventResume},
		{StatusExpired, EventCancel},
	}
	for _, tc := range denied {
		_, err := Transition(tc.from, tc.event)
		assert.Error(t, err, "%s + %s", tc.from, tc.event)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		var invalid *InvalidTransitionError
		assert.True(t, errors.As(err, &invalid))
		assert.Equal(t, tc.from, invalid.From)
		assert.Equal(t, tc.event, invalid.Event)
	}
}

func TestCadenceNext(t *testing.T) {
	base := time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, base.AddDate(0, 0, 1), CadenceDaily.Next(base))
	assert.Equal(t, base.AddDate(0, 0, 7), CadenceWeekly.Next(base))
	assert.Equal(t, base.AddDate(0, 1, 0), CadenceMonthly.Next(base))
	assert.Equal(t, base.AddDate(1, 0, 0), CadenceYearly.Next(base))
}

func TestRemainingCycles(t *testing.T) {
	sub := Subscription{TotalCycles: 12, PaymentCount: 7, FailedPaymentCount: 2}
	assert.Equal(t, 3, sub.RemainingCycles())
}
