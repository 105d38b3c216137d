package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"projex/domain"
)

var errDepartmentNotFound = echo.NewHTTPError(http.StatusNotFound, "department not found")

type departmentRequest struct {
	Title string `json:"title"`
	Color string `json:"color"`
}

type memberRequest struct {
	DepartmentID string              `json:"departmentId"`
	Name         string              `json:"name"`
	Role         string              `json:"role"`
	Status       domain.MemberStatus `json:"status"`
}

type moveMemberRequest struct {
	SourceDepartmentID string `json:"sourceDepartmentId"`
	TargetDepartmentID string `json:"targetDepartmentId"`
}

type timelineEventRequest struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

func (h *handler) getTeam(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	r, err := s.Roster(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *handler) addDepartment(c echo.Context) error {
	var req departmentRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	return h.updateRoster(c, http.StatusCreated, func(r domain.Roster) (domain.Roster, error) {
		out, _, err := domain.AddDepartment(r, req.Title, req.Color)
		return out, err
	})
}

func (h *handler) deleteDepartment(c echo.Context) error {
	id := c.Param("departmentID")
	return h.updateRoster(c, http.StatusOK, func(r domain.Roster) (domain.Roster, error) {
		return domain.DeleteDepartment(r, id), nil
	})
}

func (h *handler) addMember(c echo.Context) error {
	var req memberRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	s, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	m := domain.Member{Name: req.Name, Role: req.Role, Status: req.Status}
	r, err := s.UpdateRoster(c.Request().Context(), func(r domain.Roster) (domain.Roster, error) {
		out, added, err := domain.AddMember(r, req.DepartmentID, s.NewID(), m)
		if err == nil && added.ID == 0 {
			return r, errDepartmentNotFound
		}
		return out, err
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *handler) updateMember(c echo.Context) error {
	id, err := int64Param(c, "memberID")
	if err != nil {
		return err
	}
	var req memberRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	m := domain.Member{ID: id, Name: req.Name, Role: req.Role, Status: req.Status}
	return h.updateRoster(c, http.StatusOK, func(r domain.Roster) (domain.Roster, error) {
		return domain.UpdateMember(r, m)
	})
}

func (h *handler) deleteMember(c echo.Context) error {
	id, err := int64Param(c, "memberID")
	if err != nil {
		return err
	}
	return h.updateRoster(c, http.StatusOK, func(r domain.Roster) (domain.Roster, error) {
		return domain.DeleteMember(r, id), nil
	})
}

func (h *handler) moveMember(c echo.Context) error {
	id, err := int64Param(c, "memberID")
	if err != nil {
		return err
	}
	var req moveMemberRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	return h.updateRoster(c, http.StatusOK, func(r domain.Roster) (domain.Roster, error) {
		return domain.MoveMember(r, id, req.SourceDepartmentID, req.TargetDepartmentID), nil
	})
}

func (h *handler) updateRoster(c echo.Context, status int, fn func(domain.Roster) (domain.Roster, error)) error {
	s, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	r, err := s.UpdateRoster(c.Request().Context(), fn)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(status, r)
}

func (h *handler) getTimeline(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	tl, err := s.Timeline(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, tl)
}

func (h *handler) addTimelineEvent(c echo.Context) error {
	var req timelineEventRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	s, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	ev := domain.TimelineEvent{Title: req.Title, Date: req.Date, Category: req.Category, Description: req.Description}
	tl, err := s.UpdateTimeline(c.Request().Context(), func(tl domain.Timeline) (domain.Timeline, error) {
		out, _, err := domain.AddTimelineEvent(tl, ev)
		return out, err
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, tl)
}

func (h *handler) deleteTimelineEvent(c echo.Context) error {
	id, err := intParam(c, "eventID")
	if err != nil {
		return err
	}
	s, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	tl, err := s.UpdateTimeline(c.Request().Context(), func(tl domain.Timeline) (domain.Timeline, error) {
		return domain.DeleteTimelineEvent(tl, id), nil
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, tl)
}

func (h *handler) getCalendar(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	cal, err := s.Calendar(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, cal)
}

func (h *handler) saveCalendarEvent(c echo.Context) error {
	var ev domain.CalendarEvent
	if err := decodeBody(c, &ev); err != nil {
		return err
	}
	s, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	cal, err := s.UpdateCalendar(c.Request().Context(), func(cal domain.Calendar) (domain.Calendar, error) {
		out, _, err := domain.SaveCalendarEvent(cal, ev, s.NewID())
		return out, err
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, cal)
}

func (h *handler) deleteCalendarEvent(c echo.Context) error {
	id, err := int64Param(c, "eventID")
	if err != nil {
		return err
	}
	s, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	cal, err := s.UpdateCalendar(c.Request().Context(), func(cal domain.Calendar) (domain.Calendar, error) {
		return domain.DeleteCalendarEvent(cal, id), nil
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, cal)
}
