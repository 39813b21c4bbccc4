package document

// Имена коллекций госпитального дашборда.
const (
	CollectionPatients       = "patients"
	CollectionDoctors        = "doctors"
	CollectionAppointments   = "appointments"
	CollectionHospitals      = "hospitals"
	CollectionBills          = "bills"
	CollectionMedicalRecords = "medicalRecords"
)

// DefaultRegistry возвращает реестр схем всех коллекций приложения.
// Схемы заменяют динамические payload-ы: каждая коллекция проверяется
// на границе шлюза записи и повторно в хранилище.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Schema{
			Collection: CollectionPatients,
			Fields: []FieldDef{
				{Name: "name", Kind: KindString, Required: true},
				{Name: "hospitalId", Kind: KindString, Required: true},
				{Name: "email", Kind: KindString},
				{Name: "phone", Kind: KindString},
				{Name: "dateOfBirth", Kind: KindTime},
				{Name: "gender", Kind: KindString},
				{Name: "bloodGroup", Kind: KindString},
				{Name: "address", Kind: KindString},
			},
		},
		Schema{
			Collection: CollectionDoctors,
			Fields: []FieldDef{
				{Name: "name", Kind: KindString, Required: true},
				{Name: "hospitalId", Kind: KindString, Required: true},
				{Name: "specialization", Kind: KindString},
				{Name: "email", Kind: KindString},
				{Name: "phone", Kind: KindString},
				{Name: "consultationFee", Kind: KindNumber},
				{Name: "available", Kind: KindBool},
			},
		},
		Schema{
			Collection: CollectionAppointments,
			Fields: []FieldDef{
				{Name: "patientId", Kind: KindString, Required: true},
				{Name: "doctorId", Kind: KindString, Required: true},
				{Name: "hospitalId", Kind: KindString, Required: true},
				{Name: "appointmentDate", Kind: KindTime, Required: true},
				{Name: "status", Kind: KindString, Required: true},
				{Name: "priority", Kind: KindString},
				{Name: "reason", Kind: KindString},
				{Name: "notes", Kind: KindString},
			},
		},
		Schema{
			Collection: CollectionHospitals,
			Fields: []FieldDef{
				{Name: "name", Kind: KindString, Required: true},
				{Name: "address", Kind: KindString},
				{Name: "city", Kind: KindString},
				{Name: "phone", Kind: KindString},
				{Name: "licenseNumber", Kind: KindString},
			},
		},
		Schema{
			Collection: CollectionBills,
			Fields: []FieldDef{
				{Name: "patientId", Kind: KindString, Required: true},
				{Name: "hospitalId", Kind: KindString, Required: true},
				{Name: "amount", Kind: KindNumber, Required: true},
				{Name: "status", Kind: KindString, Required: true},
				{Name: "appointmentId", Kind: KindString},
				{Name: "issuedAt", Kind: KindTime},
				{Name: "paidAt", Kind: KindTime},
			},
		},
		Schema{
			Collection: CollectionMedicalRecords,
			Fields: []FieldDef{
				{Name: "patientId", Kind: KindString, Required: true},
				{Name: "doctorId", Kind: KindString, Required: true},
				{Name: "hospitalId", Kind: KindString},
				{Name: "diagnosis", Kind: KindString},
				{Name: "prescription", Kind: KindString},
				{Name: "notes", Kind: KindString},
				{Name: "recordDate", Kind: KindTime},
			},
		},
	)
}
