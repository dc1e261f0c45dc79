package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	Register()
	Register()

	before := testutil.ToFloat64(bookingTransition.WithLabelValues("confirm", "ok"))
	IncTransition("confirm", "ok")
	assert.Equal(t, before+1, testutil.ToFloat64(bookingTransition.WithLabelValues("confirm", "ok")))

	before = testutil.ToFloat64(slotConflict)
	IncSlotConflict()
	assert.Equal(t, before+1, testutil.ToFloat64(slotConflict))

	IncBookingCreated("portrait")
	IncSyncWarning("notify")
	IncHTTP("availability")
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequests.WithLabelValues("availability")))
}
