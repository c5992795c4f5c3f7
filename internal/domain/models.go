// Package domain holds the read-side projections built from contract
// events: exams, users, registrations, results and notifications.
package domain

import "time"

// Exam defaults applied when an exam is first seen on chain. The chain only
// carries the exam id, creator and name, so the descriptive fields start
// with placeholder values an operator can refine later.
const (
	DefaultExamCategory     = "Others"
	DefaultExamDuration     = 60
	DefaultExamPassingScore = 70
	DefaultExamPrice        = "0"
)

// Registration lifecycle values. Registrations created from chain events
// are confirmed and paid: the contract only emits UserRegistered after the
// payment succeeded.
const (
	RegistrationStatusPending   = "pending"
	RegistrationStatusConfirmed = "confirmed"

	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
)

// Notification types.
const (
	NotificationInfo    = "info"
	NotificationSuccess = "success"
	NotificationWarning = "warning"
	NotificationError   = "error"
)

// Exam is a certification exam mirrored from the chain. Its ID is the
// decimal exam id from the contract, not a generated key.
type Exam struct {
	ID              string    `meddler:"id" json:"id"`
	Name            string    `meddler:"name" json:"name"`
	Category        string    `meddler:"category" json:"category"`
	Description     *string   `meddler:"description" json:"description,omitempty"`
	DurationMinutes int       `meddler:"duration_minutes" json:"durationMinutes"`
	PassingScore    int       `meddler:"passing_score" json:"passingScore"`
	Price           string    `meddler:"price" json:"price"`
	IsCertification bool      `meddler:"is_certification" json:"isCertification"`
	CreatorAddress  *string   `meddler:"creator_address" json:"creatorAddress,omitempty"`
	CreatedAt       time.Time `meddler:"created_at,utctimez" json:"createdAt"`
}

// User is a wallet-backed account created the first time its wallet
// registers for an exam.
type User struct {
	ID            string    `meddler:"id" json:"id"`
	WalletAddress string    `meddler:"wallet_address" json:"walletAddress"`
	Username      string    `meddler:"username" json:"username"`
	Email         *string   `meddler:"email" json:"email,omitempty"`
	CreatedAt     time.Time `meddler:"created_at,utctimez" json:"createdAt"`
}

// Registration links a user to an exam. A user registers for an exam at
// most once.
type Registration struct {
	ID            string    `meddler:"id" json:"id"`
	UserID        string    `meddler:"user_id" json:"userId"`
	ExamID        string    `meddler:"exam_id" json:"examId"`
	Status        string    `meddler:"status" json:"status"`
	PaymentStatus string    `meddler:"payment_status" json:"paymentStatus"`
	ExamCode      string    `meddler:"exam_code" json:"examCode"`
	CreatedAt     time.Time `meddler:"created_at,utctimez" json:"createdAt"`
}

// Result is the outcome of a completed exam, one per registration.
type Result struct {
	ID             string    `meddler:"id" json:"id"`
	RegistrationID string    `meddler:"registration_id" json:"registrationId"`
	UserID         string    `meddler:"user_id" json:"userId"`
	ExamID         string    `meddler:"exam_id" json:"examId"`
	Score          int       `meddler:"score" json:"score"`
	IsPassed       bool      `meddler:"is_passed" json:"isPassed"`
	CompletionTime *int64    `meddler:"completion_time" json:"completionTime,omitempty"`
	CertificateURL *string   `meddler:"certificate_url" json:"certificateUrl,omitempty"`
	CreatedAt      time.Time `meddler:"created_at,utctimez" json:"createdAt"`
	UpdatedAt      time.Time `meddler:"updated_at,utctimez" json:"updatedAt"`
}

// Notification is a message for one user, or for everyone when UserID is
// nil.
type Notification struct {
	ID        string    `meddler:"id" json:"id"`
	UserID    *string   `meddler:"user_id" json:"userId,omitempty"`
	Type      string    `meddler:"type" json:"type"`
	Title     string    `meddler:"title" json:"title"`
	Message   string    `meddler:"message" json:"message"`
	IsRead    bool      `meddler:"is_read" json:"isRead"`
	CreatedAt time.Time `meddler:"created_at,utctimez" json:"createdAt"`
}
