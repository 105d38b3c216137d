package domain

import (
	"strings"
	"time"
)

// TimelineEvent is a milestone on the project timeline.
type TimelineEvent struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Date        string `json:"date"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Timeline is the timeline document of a project.
type Timeline struct {
	Events []TimelineEvent `json:"events"`
}

// AddTimelineEvent appends ev with the next free id. Title, date and
// description are required.
func AddTimelineEvent(tl Timeline, ev TimelineEvent) (Timeline, TimelineEvent, error) {
	switch {
	case strings.TrimSpace(ev.Title) == "":
		return tl, TimelineEvent{}, invalid("title", "event title is required")
	case strings.TrimSpace(ev.Date) == "":
		return tl, TimelineEvent{}, invalid("date", "event date is required")
	case strings.TrimSpace(ev.Description) == "":
		return tl, TimelineEvent{}, invalid("description", "event description is required")
	}
	if ev.Category == "" {
		ev.Category = "meeting"
	}
	next := 0
	for _, e := range tl.Events {
		if e.ID > next {
			next = e.ID
		}
	}
	ev.ID = next + 1
	out := Timeline{Events: append(append(make([]TimelineEvent, 0, len(tl.Events)+1), tl.Events...), ev)}
	return out, ev, nil
}

// DeleteTimelineEvent removes the event with the given id.
func DeleteTimelineEvent(tl Timeline, id int) Timeline {
	out := Timeline{Events: make([]TimelineEvent, 0, len(tl.Events))}
	for _, e := range tl.Events {
		if e.ID != id {
			out.Events = append(out.Events, e)
		}
	}
	return out
}

// CalendarEventType classifies calendar entries.
type CalendarEventType string

const (
	EventMeeting  CalendarEventType = "meeting"
	EventCall     CalendarEventType = "call"
	EventDeadline CalendarEventType = "deadline"
	EventTask     CalendarEventType = "task"
)

// CalendarEvent is a dated entry on the project calendar.
type CalendarEvent struct {
	ID          int64             `json:"id"`
	Title       string            `json:"title"`
	Date        string            `json:"date"`
	Time        string            `json:"time"`
	Description string            `json:"description"`
	Type        CalendarEventType `json:"type"`
}

// Calendar is the calendar document of a project.
type Calendar struct {
	Events []CalendarEvent `json:"events"`
}

// SaveCalendarEvent replaces the event with the same id, or appends ev with
// newID when ev has no id or the id is unknown.
func SaveCalendarEvent(c Calendar, ev CalendarEvent, newID int64) (Calendar, CalendarEvent, error) {
	if strings.TrimSpace(ev.Title) == "" {
		return c, CalendarEvent{}, invalid("title", "event title is required")
	}
	if _, err := time.Parse("2006-01-02", ev.Date); err != nil {
		return c, CalendarEvent{}, invalid("date", "expected YYYY-MM-DD")
	}
	if ev.Time == "" {
		ev.Time = "12:00"
	}
	if _, err := time.Parse("15:04", ev.Time); err != nil {
		return c, CalendarEvent{}, invalid("time", "expected HH:MM")
	}
	switch ev.Type {
	case "":
		ev.Type = EventMeeting
	case EventMeeting, EventCall, EventDeadline, EventTask:
	default:
		return c, CalendarEvent{}, invalid("type", "must be one of meeting, call, deadline, task")
	}

	out := Calendar{Events: append(make([]CalendarEvent, 0, len(c.Events)+1), c.Events...)}
	if ev.ID != 0 {
		for i, cur := range out.Events {
			if cur.ID == ev.ID {
				out.Events[i] = ev
				return out, ev, nil
			}
		}
	}
	ev.ID = newID
	out.Events = append(out.Events, ev)
	return out, ev, nil
}

// DeleteCalendarEvent removes the event with the given id.
func DeleteCalendarEvent(c Calendar, id int64) Calendar {
	out := Calendar{Events: make([]CalendarEvent, 0, len(c.Events))}
	for _, e := range c.Events {
		if e.ID != id {
			out.Events = append(out.Events, e)
		}
	}
	return out
}
