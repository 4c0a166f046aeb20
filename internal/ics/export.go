package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"studentcal/internal/model"
)

const productID = "-//studentcal//schedule export//EN"

// Export renders events as a PUBLISH calendar named name. Each VEVENT UID
// is "<kind>-<id>@studentcal", stable across exports.
func Export(name string, events []model.CalendarEvent, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		ve := cal.AddEvent(string(ev.Kind) + "-" + ev.ID + "@studentcal")
		ve.SetDtStampTime(stamp)
		ve.SetStartAt(ev.Start)
		ve.SetEndAt(ev.End)
		ve.SetSummary(ev.Title)
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if ev.Instructor != "" {
			ve.SetDescription("Instructor: " + ev.Instructor)
		}
		ve.SetProperty("CATEGORIES", string(ev.Kind))
	}
	return cal.Serialize()
}
