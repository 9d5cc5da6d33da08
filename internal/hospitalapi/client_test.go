package hospitalapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/or-scheduler/internal/booking"
	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *booking.IDRegistry) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	reg := booking.NewIDRegistry()
	c := New(Config{
		BookingBaseURL:   srv.URL,
		SchedulerBaseURL: srv.URL + "/",
		HospitalID:       "hosp-1",
		MaxAttempts:      3,
		BaseDelay:        time.Millisecond,
	}, reg, logging.Discard())
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c, reg
}

func TestCentersNumberedThroughRegistry(t *testing.T) {
	c, reg := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/surgical-center", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"id":"uuid-a","name":"Centro A","local":"Bloco 1","responsible_name":"Dra. X","type_surigical_center":"GENERAL"},
			{"id":"","name":"broken"},
			{"id":"uuid-b","name":"Centro B"}
		]`))
	}))

	centers, err := c.Centers(context.Background())
	require.NoError(t, err)
	require.Len(t, centers, 2)
	assert.Equal(t, int64(100), centers[0].ID)
	assert.Equal(t, "Bloco 1", centers[0].Location)
	assert.Equal(t, "GENERAL", centers[0].Type)
	assert.Equal(t, int64(101), centers[1].ID)

	ext, ok := reg.CenterExt(101)
	require.True(t, ok)
	assert.Equal(t, "uuid-b", ext)
}

func TestBookingsMappingAndFilters(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/schedule-surgery", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "hosp-1", r.URL.Query().Get("hospital_id"))
		_, _ = w.Write([]byte(`[
			{"id":"s1","date_start":"2025-10-25T08:00:00Z","date_end":"2025-10-25T12:00:00Z","time_additional":30,
			 "ocupation":{"id_room":"room-1"},
			 "team":[{"id":"t1","name":"Enf. Paula","role":["NURSE"],"type":"OWNED"},{"id":"t2","name":"Dr. João","role":["SURGEON"],"type":"THIRD_PARTY"}]},
			{"id":"s2","date_start":"2025-10-25T14:00:00Z","date_end":"2025-10-25T15:00:00Z","time_additional":0,
			 "ocupation":{"id_room":"room-2"},"team":[],"status":"canceled"},
			{"id":"s3","date_start":"2025-10-26T08:00:00Z","date_end":"2025-10-26T09:00:00Z","ocupation":{"id_room":"room-1"},"team":[]},
			{"id":"s4","date_start":"2025-10-25T09:00:00Z","date_end":"2025-10-25T10:00:00Z","ocupation":{"id_room":"room-9"},"team":[]},
			{"id":"bad","date_start":"yesterday","date_end":"2025-10-25T10:00:00Z","ocupation":{"id_room":"room-1"}},
			{"id":"noroom","date_start":"2025-10-25T09:00:00Z","date_end":"2025-10-25T10:00:00Z"}
		]`))
	})
	mux.HandleFunc("/room", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"room-1","id_surgical_center":"center-1","name":"Sala 1"},
			{"id":"room-2","id_surgical_center":"center-1","name":"Sala 2"},
			{"id":"room-9","id_surgical_center":"center-2","name":"Sala 9"}
		]`))
	})
	c, _ := newTestClient(t, mux)
	c.WithClock(func() time.Time { return time.Date(2025, 10, 25, 9, 0, 0, 0, time.UTC) })

	all, err := c.Bookings(context.Background(), booking.BookingFilter{Date: "2025-10-25"})
	require.NoError(t, err)
	require.Len(t, all, 3)

	first := all[0]
	assert.Equal(t, "Dr. João", first.DoctorName)
	assert.Equal(t, scheduling.UrgencyHigh, first.Urgency)
	assert.Equal(t, scheduling.StatusInProgress, first.Status)
	assert.Equal(t, "Cirurgia - room-1", first.Title)
	assert.Len(t, first.Team, 2)

	assert.Equal(t, undefinedDoctor, all[1].DoctorName)
	assert.Equal(t, scheduling.UrgencyMedium, all[1].Urgency)
	assert.Equal(t, scheduling.StatusCanceled, all[1].Status)

	inCenter, err := c.Bookings(context.Background(), booking.BookingFilter{Date: "2025-10-25", CenterID: "center-1"})
	require.NoError(t, err)
	assert.Len(t, inCenter, 2)

	inRoom, err := c.Bookings(context.Background(), booking.BookingFilter{Date: "2025-10-25", CenterID: "center-1", RoomIDs: []string{"room-2"}})
	require.NoError(t, err)
	require.Len(t, inRoom, 1)
	assert.Equal(t, "s2", inRoom[0].ID)
}

func TestSlotsQueryEncoding(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/availability/slots", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "90", q.Get("duracaoMin"))
		assert.Equal(t, "100", q.Get("centroId"))
		assert.Equal(t, "1000", q.Get("salaId"))
		assert.Equal(t, "", q.Get("profissionalId"))
		assert.Equal(t, "2025-10-25T07:00:00Z", q.Get("start"))
		_, _ = w.Write([]byte(`{"slots":[
			{"inicio":"2025-10-25T08:00:00","fim":"2025-10-25T09:30:00","salaId":1000,"salaNome":"Room 1","medicoNome":"Dra. Ana Souza","score":1},
			{"inicio":"not a time","fim":"2025-10-25T09:30:00"}
		]}`))
	}))

	day := time.Date(2025, 10, 25, 0, 0, 0, 0, time.UTC)
	q := scheduling.SlotQuery{DurationMinutes: 90, CenterID: 100, RoomID: 1000}.Normalize(day, time.UTC)
	slots, err := c.Slots(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, time.Date(2025, 10, 25, 8, 0, 0, 0, time.UTC), slots[0].Start)
	assert.Equal(t, "Room 1", slots[0].RoomName)
}

func TestValidateSendsWirePayload(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/procedimentos/validar", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var got map[string]any
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, float64(123), got["pacienteId"])
		assert.Equal(t, []any{float64(1), float64(4)}, got["profissionaisIds"])
		assert.Equal(t, []any{}, got["recursosIds"])
		assert.Equal(t, "2025-01-10T08:00:00Z", got["inicio"])
		_, _ = w.Write([]byte(`{"ok":false,"conflitos":[{"salaId":1}],"sugestoes":[{"inicio":"2025-01-10T10:00:00Z","fim":"2025-01-10T11:00:00Z"}]}`))
	}))

	patient := int64(123)
	start := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	res, err := c.Validate(context.Background(), scheduling.Payload{
		PatientID:       &patient,
		Start:           &start,
		End:             &end,
		ProfessionalIDs: []int64{1, 4},
	})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.JSONEq(t, `[{"salaId":1}]`, string(res.Conflicts))
	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, 10, res.Suggestions[0].Start.Hour())
}

func TestCreateBookingForwardsIdempotencyKey(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		_, _ = w.Write([]byte(`{"procedimentoId":98765}`))
	}))
	res, err := c.CreateBooking(context.Background(), scheduling.Payload{}, "key-1")
	require.NoError(t, err)
	assert.Equal(t, int64(98765), res.BookingID)
}

func TestCreateBookingWithoutID(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	_, err := c.CreateBooking(context.Background(), scheduling.Payload{}, "")
	assert.ErrorIs(t, err, ErrNoBookingID)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestCreateBookingNotReplayedAfterDroppedConnection(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			_, _ = io.Copy(io.Discard, r.Body)
			hj, ok := w.(http.Hijacker)
			if !assert.True(t, ok) {
				return
			}
			conn, _, err := hj.Hijack()
			if assert.NoError(t, err) {
				_ = conn.Close()
			}
			return
		}
		_, _ = w.Write([]byte(`{"procedimentoId":2}`))
	}))

	_, err := c.CreateBooking(context.Background(), scheduling.Payload{}, "key-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, booking.ErrOutcomeUnknown)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCreateBookingNotRetriedOnServerError(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.CreateBooking(context.Background(), scheduling.Payload{}, "key-1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.NotErrorIs(t, err, booking.ErrOutcomeUnknown)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCreateBookingRetriedWhenConnectionRefused(t *testing.T) {
	var served int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&served, 1)
		_, _ = w.Write([]byte(`{"procedimentoId":3}`))
	}))
	var dials int32
	c.WithHTTPClient(&http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&dials, 1) == 1 {
			return nil, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
		}
		return http.DefaultTransport.RoundTrip(r)
	})})

	res, err := c.CreateBooking(context.Background(), scheduling.Payload{}, "key-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.BookingID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&dials))
	assert.Equal(t, int32(1), atomic.LoadInt32(&served))
}

func TestCreateBookingUndecodableAnswerIsUnknown(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"procedimentoId":`))
	}))
	_, err := c.CreateBooking(context.Background(), scheduling.Payload{}, "key-1")
	assert.ErrorIs(t, err, booking.ErrOutcomeUnknown)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"disponivel":80}`))
	}))

	stock, err := c.ItemStock(context.Background(), 102)
	require.NoError(t, err)
	assert.Equal(t, 80, stock)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`bad window`))
	}))

	_, err := c.Slots(context.Background(), scheduling.SlotQuery{CenterID: 1})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "bad window", apiErr.Body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	_, err := c.Centers(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNextDelayCapped(t *testing.T) {
	c := New(Config{BaseDelay: time.Second}, nil, logging.Discard())
	assert.Equal(t, time.Second, c.nextDelay(0))
	assert.Equal(t, 4*time.Second, c.nextDelay(2))
	assert.Equal(t, maxRetryDelay, c.nextDelay(10))
}

func TestUpdateStatus(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/schedule-surgery/s1/status", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"status":"COMPLETED"}`, string(body))
		w.WriteHeader(http.StatusNoContent)
	}))
	require.NoError(t, c.UpdateStatus(context.Background(), "s1", scheduling.StatusCompleted))
	assert.ErrorIs(t, c.UpdateStatus(context.Background(), "s1", "DONE"), scheduling.ErrInvalidStatus)
}

func TestProfessionalsAndResourcesFilters(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/availability/profissionais", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("interno"))
		assert.Equal(t, "2", r.URL.Query().Get("especialidadeId"))
		_, _ = w.Write([]byte(`[{"id":2,"nome":"Dra. Fernanda Lopes","interno":true,"disponivel":false,"motivo":"Em procedimento até 14h","especialidades":[{"id":2,"nome":"Cardiologia"}]},{"id":0,"nome":"ghost"}]`))
	})
	mux.HandleFunc("/api/availability/recursos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "12", r.URL.Query().Get("grupoId"))
		_, _ = w.Write([]byte(`[{"id":1,"nome":"Mesa Cirúrgica A1","externo":false,"disponivel":true,"grupoId":12},{"id":101,"nome":"Gaze","disposable":true,"estoque":250,"unidade":"pct"}]`))
	})
	c, _ := newTestClient(t, mux)

	internal := true
	pros, err := c.Professionals(context.Background(), booking.ProfessionalFilter{Internal: &internal, SpecialtyID: 2})
	require.NoError(t, err)
	require.Len(t, pros, 1)
	assert.False(t, pros[0].Available)
	assert.True(t, pros[0].HasSpecialty(2))

	reusable := false
	res, err := c.Resources(context.Background(), booking.ResourceFilter{GroupID: 12, Disposable: &reusable})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Mesa Cirúrgica A1", res[0].Name)
}
