package hospitalapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/or-scheduler/internal/scheduling"
)

// Wire shapes of the v1 backends. Every mapping returns an error for rows
// missing required data instead of guessing.

var errMissingField = errors.New("missing required field")

const (
	roleSurgeon     = "SURGEON"
	undefinedDoctor = "Médico não definido"
	defaultPatient  = "Paciente"
	defaultSurgery  = "Cirurgia Geral"
)

type surgicalCenterV1 struct {
	ID              string `json:"id"`
	HospitalID      string `json:"id_hospital"`
	ResponsibleName string `json:"responsible_name"`
	Name            string `json:"name"`
	Local           string `json:"local"`
	Type            string `json:"type_surigical_center"`
}

func mapCenterV1(in surgicalCenterV1) (scheduling.Center, error) {
	if strings.TrimSpace(in.ID) == "" {
		return scheduling.Center{}, fmt.Errorf("surgical center %q: %w: id", in.Name, errMissingField)
	}
	return scheduling.Center{
		ExternalID: in.ID,
		Name:       in.Name,
		Location:   in.Local,
		Type:       in.Type,
		Manager:    in.ResponsibleName,
	}, nil
}

type roomV1 struct {
	ID       string `json:"id"`
	CenterID string `json:"id_surgical_center"`
	Name     string `json:"name"`
	Type     string `json:"type"`
}

func mapRoomV1(in roomV1) (scheduling.Room, error) {
	if strings.TrimSpace(in.ID) == "" {
		return scheduling.Room{}, fmt.Errorf("room %q: %w: id", in.Name, errMissingField)
	}
	return scheduling.Room{
		ExternalID:       in.ID,
		Name:             in.Name,
		CenterExternalID: in.CenterID,
	}, nil
}

type teamMemberV1 struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"role"`
	Type  string   `json:"type"`
}

type ocupationV1 struct {
	ID       string `json:"id"`
	CenterID string `json:"id_surgical_center"`
	RoomID   string `json:"id_room"`
}

type scheduleSurgeryV1 struct {
	ID             string         `json:"id"`
	HospitalID     string         `json:"id_hospital"`
	DateStart      string         `json:"date_start"`
	DateEnd        string         `json:"date_end"`
	TimeAdditional float64        `json:"time_additional"`
	Status         string         `json:"status,omitempty"`
	Ocupation      *ocupationV1   `json:"ocupation"`
	Team           []teamMemberV1 `json:"team"`
}

// mapBookingV1 converts a scheduled surgery. The doctor is the team member
// holding the SURGEON role; extra time marks the booking as high urgency;
// a missing status is derived from now.
func mapBookingV1(in scheduleSurgeryV1, now time.Time, loc *time.Location) (scheduling.Booking, error) {
	if strings.TrimSpace(in.ID) == "" {
		return scheduling.Booking{}, fmt.Errorf("schedule surgery: %w: id", errMissingField)
	}
	if in.Ocupation == nil || strings.TrimSpace(in.Ocupation.RoomID) == "" {
		return scheduling.Booking{}, fmt.Errorf("schedule surgery %s: %w: ocupation.id_room", in.ID, errMissingField)
	}
	start, err := parseTime(in.DateStart, loc)
	if err != nil {
		return scheduling.Booking{}, fmt.Errorf("schedule surgery %s: date_start: %w", in.ID, err)
	}
	end, err := parseTime(in.DateEnd, loc)
	if err != nil {
		return scheduling.Booking{}, fmt.Errorf("schedule surgery %s: date_end: %w", in.ID, err)
	}

	b := scheduling.Booking{
		ID:          in.ID,
		RoomID:      in.Ocupation.RoomID,
		Title:       "Cirurgia - " + in.Ocupation.RoomID,
		DoctorName:  undefinedDoctor,
		PatientName: defaultPatient,
		SurgeryType: defaultSurgery,
		Start:       start,
		End:         end,
		Urgency:     scheduling.UrgencyMedium,
	}
	if in.TimeAdditional > 0 {
		b.Urgency = scheduling.UrgencyHigh
	}
	for _, m := range in.Team {
		member := scheduling.TeamMember{ID: m.ID, Name: m.Name, Roles: m.Roles, Type: m.Type}
		if b.DoctorName == undefinedDoctor && member.HasRole(roleSurgeon) && m.Name != "" {
			b.DoctorName = m.Name
		}
		b.Team = append(b.Team, member)
	}
	status := scheduling.BookingStatus(strings.ToUpper(strings.TrimSpace(in.Status)))
	if !status.Valid() {
		status = scheduling.StatusAt(start, end, now)
	}
	b.Status = status
	return b, nil
}

type statusUpdateV1 struct {
	Status string `json:"status"`
}

// Scheduler service shapes.

type slotV1 struct {
	Inicio        string  `json:"inicio"`
	Fim           string  `json:"fim"`
	Score         float64 `json:"score,omitempty"`
	SalaID        int64   `json:"salaId,omitempty"`
	ResponsavelID int64   `json:"responsavelId,omitempty"`
	MedicoNome    string  `json:"medicoNome,omitempty"`
	SalaNome      string  `json:"salaNome,omitempty"`
}

type slotsResponseV1 struct {
	Slots []slotV1 `json:"slots"`
}

func mapSlotV1(in slotV1, loc *time.Location) (scheduling.Slot, error) {
	start, err := parseTime(in.Inicio, loc)
	if err != nil {
		return scheduling.Slot{}, fmt.Errorf("slot inicio: %w", err)
	}
	end, err := parseTime(in.Fim, loc)
	if err != nil {
		return scheduling.Slot{}, fmt.Errorf("slot fim: %w", err)
	}
	return scheduling.Slot{
		Start:            start,
		End:              end,
		Score:            in.Score,
		RoomID:           in.SalaID,
		RoomName:         in.SalaNome,
		ProfessionalID:   in.ResponsavelID,
		ProfessionalName: in.MedicoNome,
	}, nil
}

type salaV1 struct {
	ID       int64  `json:"id"`
	Nome     string `json:"nome"`
	CentroID int64  `json:"centroId,omitempty"`
}

func mapSalaV1(in salaV1, centerID int64) (scheduling.Room, error) {
	if in.ID == 0 {
		return scheduling.Room{}, fmt.Errorf("sala %q: %w: id", in.Nome, errMissingField)
	}
	room := scheduling.Room{ID: in.ID, Name: in.Nome, CenterID: in.CentroID}
	if room.CenterID == 0 {
		room.CenterID = centerID
	}
	return room, nil
}

type especialidadeV1 struct {
	ID   int64  `json:"id"`
	Nome string `json:"nome"`
}

type funcionarioV1 struct {
	ID             int64             `json:"id"`
	Nome           string            `json:"nome"`
	Interno        bool              `json:"interno"`
	Disponivel     bool              `json:"disponivel"`
	Motivo         string            `json:"motivo,omitempty"`
	Especialidades []especialidadeV1 `json:"especialidades"`
}

func mapProfessionalV1(in funcionarioV1) (scheduling.Professional, error) {
	if in.ID == 0 {
		return scheduling.Professional{}, fmt.Errorf("profissional %q: %w: id", in.Nome, errMissingField)
	}
	p := scheduling.Professional{
		ID:        in.ID,
		Name:      in.Nome,
		Internal:  in.Interno,
		Available: in.Disponivel,
		Reason:    in.Motivo,
	}
	for _, e := range in.Especialidades {
		p.Specialties = append(p.Specialties, scheduling.Specialty{ID: e.ID, Name: e.Nome})
	}
	return p, nil
}

type recursoV1 struct {
	ID         int64  `json:"id"`
	Nome       string `json:"nome"`
	Externo    bool   `json:"externo"`
	Disponivel bool   `json:"disponivel"`
	Motivo     string `json:"motivo,omitempty"`
	GrupoID    int64  `json:"grupoId,omitempty"`
	Disposable bool   `json:"disposable,omitempty"`
	Estoque    int    `json:"estoque,omitempty"`
	Unidade    string `json:"unidade,omitempty"`
}

func mapResourceV1(in recursoV1) (scheduling.Resource, error) {
	if in.ID == 0 {
		return scheduling.Resource{}, fmt.Errorf("recurso %q: %w: id", in.Nome, errMissingField)
	}
	return scheduling.Resource{
		ID:         in.ID,
		Name:       in.Nome,
		External:   in.Externo,
		Available:  in.Disponivel,
		Reason:     in.Motivo,
		GroupID:    in.GrupoID,
		Disposable: in.Disposable,
		Stock:      in.Estoque,
		Unit:       in.Unidade,
	}, nil
}

type stockV1 struct {
	Disponivel *int `json:"disponivel"`
}

type itemV1 struct {
	ItemTipoID int64 `json:"itemTipoId"`
	Quantidade int   `json:"quantidade"`
}

type agendarPayloadV1 struct {
	PacienteID                *int64   `json:"pacienteId"`
	ResponsavelProfissionalID *int64   `json:"responsavelProfissionalId"`
	ProcedimentoNome          string   `json:"procedimentoNome,omitempty"`
	SalaID                    *int64   `json:"salaId"`
	Inicio                    *string  `json:"inicio"`
	Fim                       *string  `json:"fim"`
	ProfissionaisIDs          []int64  `json:"profissionaisIds"`
	RecursosIDs               []int64  `json:"recursosIds"`
	Itens                     []itemV1 `json:"itens"`
}

func payloadToV1(p scheduling.Payload) agendarPayloadV1 {
	out := agendarPayloadV1{
		PacienteID:                p.PatientID,
		ResponsavelProfissionalID: p.ResponsibleID,
		ProcedimentoNome:          p.ProcedureName,
		SalaID:                    p.RoomID,
		ProfissionaisIDs:          nonNil(p.ProfessionalIDs),
		RecursosIDs:               nonNil(p.ResourceIDs),
		Itens:                     make([]itemV1, 0, len(p.Items)),
	}
	if p.Start != nil {
		s := p.Start.Format(time.RFC3339)
		out.Inicio = &s
	}
	if p.End != nil {
		s := p.End.Format(time.RFC3339)
		out.Fim = &s
	}
	for _, it := range p.Items {
		out.Itens = append(out.Itens, itemV1{ItemTipoID: it.ItemTypeID, Quantidade: it.Quantity})
	}
	return out
}

type sugestaoV1 struct {
	Inicio string `json:"inicio"`
	Fim    string `json:"fim"`
}

type validarResponseV1 struct {
	OK        bool            `json:"ok"`
	Conflitos json.RawMessage `json:"conflitos,omitempty"`
	Sugestoes []sugestaoV1    `json:"sugestoes,omitempty"`
}

func mapValidationV1(in validarResponseV1, loc *time.Location) (scheduling.ValidationResult, error) {
	out := scheduling.ValidationResult{OK: in.OK}
	if len(in.Conflitos) > 0 && string(in.Conflitos) != "null" {
		out.Conflicts = in.Conflitos
	}
	for _, s := range in.Sugestoes {
		start, err := parseTime(s.Inicio, loc)
		if err != nil {
			return scheduling.ValidationResult{}, fmt.Errorf("sugestao inicio: %w", err)
		}
		end, err := parseTime(s.Fim, loc)
		if err != nil {
			return scheduling.ValidationResult{}, fmt.Errorf("sugestao fim: %w", err)
		}
		out.Suggestions = append(out.Suggestions, scheduling.Suggestion{Start: start, End: end})
	}
	return out, nil
}

type agendarResponseV1 struct {
	ProcedimentoID *int64 `json:"procedimentoId"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// parseTime accepts RFC 3339 and zone-less local timestamps, the latter
// interpreted in loc.
func parseTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errMissingField
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
