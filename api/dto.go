/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Field names follow
  the web client's camelCase contract, so the domain types can stay
  idiomatic Go.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags; Handler.decode runs
  them after JSON decoding. A payment's price must be present (a pointer
  tagged required); its value rules live in the domain and surface as
  ErrInvalidPrice.

MONEY:
  Prices are decoded with decimal.Decimal, which accepts both 49.99 and
  "49.99". Responses write prices as JSON numbers with the exact decimal
  digits.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/enrollment-engine/enrollment"
)

// =============================================================================
// REQUESTS
// =============================================================================

// SelectRequest is the body of POST/DELETE /classes/{classId}/select.
type SelectRequest struct {
	StudentEmail string `json:"studentEmail" validate:"required,email"`
}

// PaymentIntentRequest is the body of POST /payment-intents.
type PaymentIntentRequest struct {
	Price decimal.Decimal `json:"price"`
}

// PaymentRequest is the body of POST /payments.
type PaymentRequest struct {
	TransactionID   string           `json:"transactionId" validate:"required,max=128"`
	StudentEmail    string           `json:"studentEmail" validate:"required,email"`
	ClassID         string           `json:"classId" validate:"required"`
	InstructorEmail string           `json:"instructorEmail" validate:"omitempty,email"`
	Price           *decimal.Decimal `json:"price" validate:"required"`
	Date            time.Time        `json:"date"`
	ClassName       string           `json:"className"`
	Name            string           `json:"name"`
	InstructorName  string           `json:"instructorName"`
}

// toDomain expects a validated request; Price is non-nil.
func (r PaymentRequest) toDomain() enrollment.ReconcileRequest {
	return enrollment.ReconcileRequest{
		TransactionID:   enrollment.TransactionID(r.TransactionID),
		StudentEmail:    r.StudentEmail,
		StudentName:     r.Name,
		ClassID:         enrollment.ClassID(r.ClassID),
		ClassName:       r.ClassName,
		InstructorEmail: r.InstructorEmail,
		InstructorName:  r.InstructorName,
		Price:           *r.Price,
		Date:            r.Date,
	}
}

// LoadScenarioRequest is the body of POST /scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type PaymentIntentDTO struct {
	ClientSecret string `json:"clientSecret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// PaymentDTO mirrors a stored payment document.
type PaymentDTO struct {
	TransactionID   string      `json:"transactionId"`
	StudentEmail    string      `json:"email"`
	Name            string      `json:"name,omitempty"`
	ClassID         string      `json:"classId"`
	ClassName       string      `json:"className,omitempty"`
	InstructorEmail string      `json:"instructorEmail"`
	InstructorName  string      `json:"instructorName,omitempty"`
	Price           json.Number `json:"price"`
	Date            time.Time   `json:"date"`
}

type CountersDTO struct {
	ClassID          string `json:"classId"`
	EnrolledStudents int    `json:"enrolledStudents"`
	InstructorEmail  string `json:"instructorEmail"`
	NumberOfStudents int    `json:"numberOfStudents"`
}

// PaymentResponse is returned by POST /payments. Replayed is true when the
// transaction id had already been reconciled.
type PaymentResponse struct {
	Payment         PaymentDTO  `json:"payment"`
	UpdatedCounters CountersDTO `json:"updatedCounters"`
	Replayed        bool        `json:"replayed"`
}

type EnrolledCheckDTO struct {
	Enrolled bool `json:"enrolled"`
}

type SweepReportDTO struct {
	RunID               string `json:"runId"`
	Payments            int    `json:"payments"`
	EnrollmentsRepaired int    `json:"enrollmentsRepaired"`
	ClassesRepaired     int    `json:"classesRepaired"`
	InstructorsRepaired int    `json:"instructorsRepaired"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toPaymentDTO(p enrollment.Payment) PaymentDTO {
	return PaymentDTO{
		TransactionID:   string(p.TransactionID),
		StudentEmail:    p.StudentEmail,
		Name:            p.StudentName,
		ClassID:         string(p.ClassID),
		ClassName:       p.ClassName,
		InstructorEmail: p.InstructorEmail,
		InstructorName:  p.InstructorName,
		Price:           json.Number(p.Price.String()),
		Date:            p.Date,
	}
}

func toPaymentResponse(e enrollment.Enrollment) PaymentResponse {
	c := e.Counters
	return PaymentResponse{
		Payment: toPaymentDTO(e.Payment),
		UpdatedCounters: CountersDTO{
			ClassID:          string(c.ClassID),
			EnrolledStudents: c.EnrolledStudents,
			InstructorEmail:  c.InstructorEmail,
			NumberOfStudents: c.NumberOfStudents,
		},
		Replayed: e.Replayed,
	}
}

func toSweepReportDTO(r enrollment.SweepReport) SweepReportDTO {
	return SweepReportDTO{
		RunID:               r.RunID,
		Payments:            r.Payments,
		EnrollmentsRepaired: r.EnrollmentsRepaired,
		ClassesRepaired:     r.ClassesRepaired,
		InstructorsRepaired: r.InstructorsRepaired,
	}
}
