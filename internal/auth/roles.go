package auth

// Role is a backend account role. The portal never invents roles; it mirrors
// the set the accounts service hands out.
type Role string

const (
	RolePatient   Role = "patient"
	RoleDoctor    Role = "doctor"
	RoleSecretary Role = "secretary"
	RoleAdmin     Role = "admin"
	RoleStaff     Role = "staff"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleSecretary, RoleAdmin, RoleStaff:
		return true
	}
	return false
}

// Capability is a named permitted action. Guards and handlers consult the
// capability table instead of comparing role strings ad hoc.
type Capability string

const (
	CapManagePatients      Capability = "patients.manage"
	CapManagePrescriptions Capability = "prescriptions.manage"
	CapManageRecords       Capability = "records.manage"
	CapTransitionStatus    Capability = "appointments.transition"
	CapDeleteAppointments  Capability = "appointments.delete"
	CapManageAvailability  Capability = "availability.manage"
	CapSendNotifications   Capability = "notifications.send"
	CapViewAllAppointments Capability = "appointments.view_all"
	CapBookForOthers       Capability = "appointments.book_for_others"
)

// roleCapabilities is the single role→capability table. Patients only ever
// see their own data and can never transition appointment status.
var roleCapabilities = map[Role]map[Capability]bool{
	RolePatient: {},
	RoleDoctor: {
		CapManagePatients:      true,
		CapManagePrescriptions: true,
		CapManageRecords:       true,
		CapTransitionStatus:    true,
		CapDeleteAppointments:  true,
		CapManageAvailability:  true,
		CapSendNotifications:   true,
		CapViewAllAppointments: true,
		CapBookForOthers:       true,
	},
	RoleSecretary: {
		CapManagePatients:      true,
		CapTransitionStatus:    true,
		CapDeleteAppointments:  true,
		CapSendNotifications:   true,
		CapViewAllAppointments: true,
		CapBookForOthers:       true,
	},
	RoleAdmin: {
		CapManagePatients:      true,
		CapManagePrescriptions: true,
		CapManageRecords:       true,
		CapTransitionStatus:    true,
		CapDeleteAppointments:  true,
		CapManageAvailability:  true,
		CapSendNotifications:   true,
		CapViewAllAppointments: true,
		CapBookForOthers:       true,
	},
	RoleStaff: {
		CapManagePatients:      true,
		CapTransitionStatus:    true,
		CapDeleteAppointments:  true,
		CapViewAllAppointments: true,
		CapBookForOthers:       true,
	},
}

// Can reports whether the role grants the capability. Unknown roles grant
// nothing.
func (r Role) Can(c Capability) bool {
	return roleCapabilities[r][c]
}

// DashboardPath is the role's default landing view, used when a guard turns
// a request away.
func (r Role) DashboardPath() string {
	switch r {
	case RoleDoctor:
		return "/doctor-dashboard"
	case RoleSecretary:
		return "/secretary-dashboard"
	default:
		return "/dashboard"
	}
}
