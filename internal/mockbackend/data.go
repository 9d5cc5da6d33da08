package mockbackend

import "github.com/wolfman30/or-scheduler/internal/scheduling"

// SampleDate is the day the seeded bookings fall on.
const SampleDate = "2025-10-25"

type seedCenter struct {
	id   string
	name string
}

type seedRoom struct {
	id       string
	name     string
	centerID string
}

type seedBooking struct {
	id          string
	title       string
	roomID      string
	date        string
	start       string
	end         string
	doctor      string
	patient     string
	surgeryType string
	urgency     scheduling.Urgency
}

var seedCenters = []seedCenter{
	{"c1", "Centro cardíaco"},
	{"c2", "Centro neurocirúrgico"},
	{"c3", "Centro ortopédico"},
	{"c4", "Centro urológico"},
	{"c5", "Centro ginecológico"},
}

var seedRooms = []seedRoom{
	{"r1", "Room 1", "c1"},
	{"r2", "Room 2", "c1"},
	{"r3", "Room 3", "c1"},
	{"r4", "Room 1", "c2"},
	{"r5", "Room 2", "c2"},
}

var seedBookings = []seedBooking{
	{"b1", "Revascularização Miocárdica", "r1", SampleDate, "08:00", "12:00", "Dr. João Silva", "Maria Santos", "Revascularização do Miocárdio", scheduling.UrgencyHigh},
	{"b2", "Troca Valvar Aórtica", "r1", SampleDate, "14:00", "18:00", "Dra. Ana Costa", "José Oliveira", "Substituição de Válvula Aórtica", scheduling.UrgencyHigh},
	{"b3", "Angioplastia", "r2", SampleDate, "09:00", "11:00", "Dr. Roberto Cardoso", "Ana Paula Martins", "Angioplastia Coronariana", scheduling.UrgencyEmergency},
	{"b4", "Cateterismo", "r2", SampleDate, "15:00", "16:30", "Dr. Roberto Cardoso", "Fernando Silva", "Cateterismo Cardíaco", scheduling.UrgencyMedium},
	{"b5", "Marcapasso", "r3", SampleDate, "10:00", "12:00", "Dra. Beatriz Coração", "Antônio Rodrigues", "Implante de Marcapasso", scheduling.UrgencyMedium},
	{"b6", "Craniotomia", "r4", SampleDate, "07:00", "13:00", "Dr. Pedro Lima", "Carlos Ferreira", "Craniotomia para Tumor", scheduling.UrgencyHigh},
	{"b7", "Cirurgia de Coluna", "r4", SampleDate, "15:00", "17:30", "Dra. Lucia Neuro", "Ricardo Almeida", "Descompressão Medular", scheduling.UrgencyMedium},
	{"b8", "Aneurisma Cerebral", "r5", SampleDate, "08:30", "14:00", "Dr. Marcos Neuro", "Paula Mendes", "Clipagem de Aneurisma", scheduling.UrgencyEmergency},
	{"b9", "Hérnia de Disco", "r5", SampleDate, "16:00", "18:00", "Dr. Marcos Neuro", "Juliana Costa", "Microdiscectomia", scheduling.UrgencyLow},
}

var (
	anestesia   = scheduling.Specialty{ID: 1, Name: "Anestesia"}
	cardiologia = scheduling.Specialty{ID: 2, Name: "Cardiologia"}
	ortopedia   = scheduling.Specialty{ID: 3, Name: "Ortopedia"}
)

// Staff ids 1-3 are the surgeons bound to rooms; the rest are the
// step-two picker roster.
var seedProfessionals = []scheduling.Professional{
	{ID: 1, Name: "Dra. Ana Souza", Internal: true, Available: true, Specialties: []scheduling.Specialty{cardiologia}},
	{ID: 2, Name: "Dr. Bruno Lima", Internal: true, Available: true, Specialties: []scheduling.Specialty{ortopedia}},
	{ID: 3, Name: "Dra. Carla Melo", Internal: true, Available: true, Specialties: []scheduling.Specialty{cardiologia}},
	{ID: 4, Name: "Dr. Marcos Mignoni", Internal: true, Available: true, Specialties: []scheduling.Specialty{anestesia, ortopedia}},
	{ID: 5, Name: "Dra. Fernanda Lopes", Internal: true, Available: false, Reason: "Em procedimento até 14h", Specialties: []scheduling.Specialty{cardiologia}},
	{ID: 6, Name: "Dr. Pedro Maia", Internal: false, Available: true, Specialties: []scheduling.Specialty{anestesia, cardiologia}},
	{ID: 7, Name: "Dra. Julia Ribeiro", Internal: false, Available: true, Specialties: []scheduling.Specialty{ortopedia}},
	{ID: 8, Name: "Dr. Rafael Costa", Internal: true, Available: false, Reason: "Férias até dia 30", Specialties: []scheduling.Specialty{anestesia, cardiologia}},
}

// roomSurgeon binds each room to the surgeon whose slots it offers.
var roomSurgeon = map[string]int64{
	"r1": 1,
	"r2": 2,
	"r3": 3,
	"r4": 1,
	"r5": 2,
}

var seedResources = []scheduling.Resource{
	{ID: 1, Name: "Mesa Cirúrgica A1", Available: true, GroupID: 12},
	{ID: 2, Name: "Monitor Cardíaco", Available: false, Reason: "Em uso na sala 3", GroupID: 10},
	{ID: 3, Name: "Ultrassom Portátil", External: true, Available: true, GroupID: 13},
	{ID: 101, Name: "Gaze Estéril 10x10", Available: true, GroupID: 21, Disposable: true, Stock: 250, Unit: "pct"},
	{ID: 102, Name: "Luvas Cirúrgicas M", Available: true, GroupID: 22, Disposable: true, Stock: 80, Unit: "cx"},
	{ID: 103, Name: "Soro Fisiológico 500ml", External: true, Available: true, GroupID: 23, Disposable: true, Stock: 0, Unit: "un"},
}

// firstBookingID is the id handed to the first submitted booking.
const firstBookingID int64 = 98765
