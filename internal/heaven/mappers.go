package heaven

import (
	"fmt"
	"time"

	"github.com/example/heaven-sync/internal/domain/reservation"
)

// SlotGranularity is the spacing of the time buttons on the quick
// registration form.
const SlotGranularity = 5 * time.Minute

// CourseElementID resolves the id of the course radio input.
func CourseElementID(catalog reservation.Catalog, course reservation.Course) (string, bool) {
	return catalog.Lookup(course)
}

// SlotCode renders t as the zero-padded HHMM code the time buttons carry in
// their for attribute. t is read on the remote system's wall clock, so the
// caller must convert it into that location first.
func SlotCode(t time.Time) string {
	return fmt.Sprintf("%02d%02d", t.Hour(), t.Minute())
}

// SlotAligned reports whether t falls on a time button. Unaligned times have
// no button and will fail the time slot step.
func SlotAligned(t time.Time) bool {
	return t.Second() == 0 && t.Nanosecond() == 0 && t.Minute()%int(SlotGranularity/time.Minute) == 0
}
