// Package types holds the domain types shared across the expiry-check
// job: alert rows, scan candidates, recipients, and the enums that
// classify them.
package types

import "time"

// AlertType identifies which kind of expiring record an alert is about.
type AlertType string

const (
	AlertTypeMulkiyaExpiry   AlertType = "mulkiya_expiry"
	AlertTypeInsuranceExpiry AlertType = "insurance_expiry"
	AlertTypeVisaExpiry      AlertType = "visa_expiry"
	AlertTypeLicenseExpiry   AlertType = "license_expiry"
	AlertTypePassportExpiry  AlertType = "passport_expiry"
)

// Category returns the human-readable document category used in alert
// titles and email rows.
func (t AlertType) Category() string {
	switch t {
	case AlertTypeMulkiyaExpiry:
		return "Mulkiya"
	case AlertTypeInsuranceExpiry:
		return "Insurance"
	case AlertTypeVisaExpiry:
		return "Visa"
	case AlertTypeLicenseExpiry:
		return "Driving License"
	case AlertTypePassportExpiry:
		return "Passport"
	default:
		return "Document"
	}
}

// SubjectType names the table an alert's subject row lives in.
type SubjectType string

const (
	SubjectVehicleDocument SubjectType = "vehicle_document"
	SubjectVisa            SubjectType = "visa"
	SubjectEmployee        SubjectType = "employee"
)

// SubjectRef points at the record an alert was raised for. The pair is
// only meaningful together; IDs are not unique across tables.
type SubjectRef struct {
	Type SubjectType `json:"subject_type" db:"subject_type"`
	ID   string      `json:"subject_id" db:"subject_id"`
}

// Priority is the urgency classification assigned from the number of
// days remaining until expiry.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Escalates reports whether an alert of this priority forces the
// escalated email subject line.
func (p Priority) Escalates() bool {
	return p == PriorityUrgent || p == PriorityHigh
}

// Alert is one persisted expiry notification. Rows are unique on
// (Type, Subject.Type, Subject.ID, DaysBefore), which is what makes
// repeated runs of the job idempotent.
type Alert struct {
	ID         string     `json:"id" db:"id"`
	Type       AlertType  `json:"type" db:"type"`
	Title      string     `json:"title" db:"title"`
	Message    string     `json:"message" db:"message"`
	Priority   Priority   `json:"priority" db:"priority"`
	Subject    SubjectRef `json:"subject"`
	DueDate    time.Time  `json:"due_date" db:"due_date"`
	DaysBefore int        `json:"days_before" db:"days_before"`
	IsRead     bool       `json:"is_read" db:"is_read"`
	IsSent     bool       `json:"is_sent" db:"is_sent"`
	SentAt     *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// ExpiryCandidate is one record found by the scanner: a subject whose
// expiry date lands exactly DaysBefore days after the reference date.
type ExpiryCandidate struct {
	Type       AlertType
	Subject    SubjectRef
	Label      string
	DueDate    time.Time
	DaysBefore int
}

// UserRole mirrors the role column of the shared users table.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleManager UserRole = "manager"
	RoleStaff   UserRole = "staff"
)

// Recipient is a resolved notification target.
type Recipient struct {
	Name  string `json:"name" db:"name"`
	Email string `json:"email" db:"email"`
}

// SenderIdentity is the verified from-identity used for outbound mail.
type SenderIdentity struct {
	Name    string
	Address string
}

// SendInput is a fully rendered outbound email handed to a provider.
// ReferenceID ties provider logs back to the job run that sent it.
type SendInput struct {
	To          []string
	From        SenderIdentity
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string
}
