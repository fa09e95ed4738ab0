package registration

import (
	"fmt"
	"time"
)

// Field keys shared by the header table, the webhook mapper and the store.
const (
	KeyID                    = "id"
	KeyCreatedAt             = "createdAt"
	KeyName                  = "name"
	KeyPhone                 = "phone"
	KeyGender                = "gender"
	KeyDepartment            = "department"
	KeyAgeGroup              = "ageGroup"
	KeyStayType              = "stayType"
	KeyIsPaid                = "isPaid"
	KeyTFTeam                = "tfTeam"
	KeyCanProvideRide        = "canProvideRide"
	KeyRideDetails           = "rideDetails"
	KeyPickupTimeDescription = "pickupTimeDescription"
	KeyTShirtSize            = "tshirtSize"
	KeyAttendanceDay         = "attendanceDay"
	KeyAttendanceTime        = "attendanceTime"
)

// EditableKeys are the fields a spreadsheet edit may change.
var EditableKeys = []string{
	KeyName, KeyPhone, KeyGender, KeyDepartment, KeyAgeGroup, KeyStayType,
	KeyIsPaid, KeyTFTeam, KeyCanProvideRide, KeyRideDetails,
	KeyPickupTimeDescription, KeyTShirtSize, KeyAttendanceDay, KeyAttendanceTime,
}

// IsEditable reports whether a spreadsheet edit may change key.
func IsEditable(key string) bool {
	for _, k := range EditableKeys {
		if k == key {
			return true
		}
	}
	return false
}

// IsKnownKey reports whether key names a Record field.
func IsKnownKey(key string) bool {
	return key == KeyID || key == KeyCreatedAt || IsEditable(key)
}

// Record is one person's application as produced by the form layer.
type Record struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Phone                 string    `json:"phone"`
	Gender                string    `json:"gender,omitempty"`
	Department            string    `json:"department,omitempty"`
	AgeGroup              string    `json:"ageGroup,omitempty"`
	StayType              string    `json:"stayType,omitempty"`
	IsPaid                bool      `json:"isPaid"`
	TFTeam                string    `json:"tfTeam,omitempty"`
	CanProvideRide        bool      `json:"canProvideRide"`
	RideDetails           string    `json:"rideDetails,omitempty"`
	PickupTimeDescription string    `json:"pickupTimeDescription,omitempty"`
	TShirtSize            string    `json:"tshirtSize,omitempty"`
	AttendanceDay         string    `json:"attendanceDay,omitempty"`
	AttendanceTime        string    `json:"attendanceTime,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
}

// ReminderState tracks payment reminders sent for one Record.
type ReminderState struct {
	AttemptCount int        `json:"attemptCount"`
	LastSentAt   *time.Time `json:"lastSentAt,omitempty"`
}

// Tracked pairs a Record with its reminder bookkeeping.
type Tracked struct {
	Record   Record        `json:"record"`
	Reminder ReminderState `json:"reminder"`
}

// Get returns the value stored under key, or nil for an unknown key.
func (r Record) Get(key string) any {
	switch key {
	case KeyID:
		return r.ID
	case KeyCreatedAt:
		return r.CreatedAt
	case KeyName:
		return r.Name
	case KeyPhone:
		return r.Phone
	case KeyGender:
		return r.Gender
	case KeyDepartment:
		return r.Department
	case KeyAgeGroup:
		return r.AgeGroup
	case KeyStayType:
		return r.StayType
	case KeyIsPaid:
		return r.IsPaid
	case KeyTFTeam:
		return r.TFTeam
	case KeyCanProvideRide:
		return r.CanProvideRide
	case KeyRideDetails:
		return r.RideDetails
	case KeyPickupTimeDescription:
		return r.PickupTimeDescription
	case KeyTShirtSize:
		return r.TShirtSize
	case KeyAttendanceDay:
		return r.AttendanceDay
	case KeyAttendanceTime:
		return r.AttendanceTime
	}
	return nil
}

// Set writes an editable field. Boolean fields require a bool, all others
// a string.
func (r *Record) Set(key string, value any) error {
	if key == KeyIsPaid || key == KeyCanProvideRide {
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("field %s: want bool, got %T", key, value)
		}
		if key == KeyIsPaid {
			r.IsPaid = b
		} else {
			r.CanProvideRide = b
		}
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("field %s: want string, got %T", key, value)
	}
	switch key {
	case KeyName:
		r.Name = s
	case KeyPhone:
		r.Phone = s
	case KeyGender:
		r.Gender = s
	case KeyDepartment:
		r.Department = s
	case KeyAgeGroup:
		r.AgeGroup = s
	case KeyStayType:
		r.StayType = s
	case KeyTFTeam:
		r.TFTeam = s
	case KeyRideDetails:
		r.RideDetails = s
	case KeyPickupTimeDescription:
		r.PickupTimeDescription = s
	case KeyTShirtSize:
		r.TShirtSize = s
	case KeyAttendanceDay:
		r.AttendanceDay = s
	case KeyAttendanceTime:
		r.AttendanceTime = s
	default:
		return fmt.Errorf("field %s is not editable", key)
	}
	return nil
}
