package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wecare/clinic/internal/domain/appointment"
	"github.com/wecare/clinic/internal/domain/inventory"
	"github.com/wecare/clinic/internal/platform/auth"
)

type fakeAppointments struct {
	counts map[string]int
	today  []*appointment.Appointment
	err    error
}

func (f *fakeAppointments) CountByStatus(context.Context) (map[string]int, error) {
	return f.counts, f.err
}

func (f *fakeAppointments) TodayApproved(context.Context) ([]*appointment.Appointment, error) {
	return f.today, nil
}

type fakeInventory struct{ days int }

func (f *fakeInventory) Alerts(_ context.Context, days int) (*inventory.Alerts, error) {
	f.days = days
	return &inventory.Alerts{
		Days:     days,
		LowStock: []*inventory.ItemView{{}, {}},
		Expiring: []*inventory.ItemView{{}},
	}, nil
}

type fakePatients struct{ role string }

func (f *fakePatients) CountByRole(_ context.Context, role string) (int, error) {
	f.role = role
	return 42, nil
}

type fakeUnread map[uuid.UUID]int

func (f fakeUnread) UnreadCount(_ context.Context, id uuid.UUID) (int, error) {
	return f[id], nil
}

func TestService_Stats(t *testing.T) {
	me := uuid.New()
	appts := &fakeAppointments{
		counts: map[string]int{appointment.StatusPending: 3, appointment.StatusApproved: 5},
		today:  []*appointment.Appointment{{ID: uuid.New()}},
	}
	inv := &fakeInventory{}
	patients := &fakePatients{}
	svc := NewService(appts, inv, patients, fakeUnread{me: 7})

	stats, err := svc.Stats(context.Background(), me)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Pending)
	assert.Len(t, stats.Appointments, len(appointment.Statuses))
	assert.Equal(t, 0, stats.Appointments[appointment.StatusCompleted])
	assert.Equal(t, 5, stats.Appointments[appointment.StatusApproved])
	assert.Len(t, stats.TodayApproved, 1)
	assert.Equal(t, 2, stats.LowStock)
	assert.Equal(t, 1, stats.Expiring)
	assert.Equal(t, 0, stats.Expired)
	assert.Equal(t, 30, inv.days)
	assert.Equal(t, 42, stats.Patients)
	assert.Equal(t, auth.RolePatient, patients.role)
	assert.Equal(t, 7, stats.UnreadMessages)
}

func TestService_Stats_Error(t *testing.T) {
	appts := &fakeAppointments{err: errors.New("db down")}
	svc := NewService(appts, &fakeInventory{}, &fakePatients{}, fakeUnread{})
	_, err := svc.Stats(context.Background(), uuid.New())
	assert.EqualError(t, err, "db down")
}

func TestHandler_Get(t *testing.T) {
	me := uuid.New()
	svc := NewService(&fakeAppointments{counts: map[string]int{}}, &fakeInventory{}, &fakePatients{}, fakeUnread{me: 1})
	h := NewHandler(svc)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), me.String(), "", []string{auth.RoleStaff}))
	rec := httptest.NewRecorder()

	require.NoError(t, h.Get(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["unread_messages"])
	assert.Equal(t, []interface{}{}, body["today_approved"])
}

func TestRoutes_DashboardRequiresStaff(t *testing.T) {
	svc := NewService(&fakeAppointments{}, &fakeInventory{}, &fakePatients{}, fakeUnread{})
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(auth.WithIdentity(req.Context(), uuid.NewString(), "", []string{auth.RolePatient})))
			return next(c)
		}
	})
	NewHandler(svc).RegisterRoutes(e.Group("/api/v1"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
