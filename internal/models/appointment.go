package models

import "time"

type AppointmentStatus string

const (
	AppointmentScheduled  AppointmentStatus = "scheduled"
	AppointmentConfirmed  AppointmentStatus = "confirmed"
	AppointmentInProgress AppointmentStatus = "in_progress"
	AppointmentCompleted  AppointmentStatus = "completed"
	AppointmentCancelled  AppointmentStatus = "cancelled"
	AppointmentNoShow     AppointmentStatus = "no_show"
)

var AppointmentStatuses = []AppointmentStatus{
	AppointmentScheduled, AppointmentConfirmed, AppointmentInProgress,
	AppointmentCompleted, AppointmentCancelled, AppointmentNoShow,
}

type Appointment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	AccountID uint      `gorm:"index;not null" json:"accountId"`

	CustomerID   uint      `gorm:"index;not null" json:"customerId"`
	Customer     *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	QuoteID      *uint     `gorm:"index" json:"quoteId,omitempty"`
	AssignedToID *uint     `gorm:"index" json:"assignedToId,omitempty"`

	Title    string            `gorm:"size:255;not null" json:"title"`
	Type     string            `gorm:"size:50" json:"type,omitempty"`
	Location string            `gorm:"size:500" json:"location,omitempty"`
	Notes    string            `gorm:"type:text" json:"notes,omitempty"`
	Status   AppointmentStatus `gorm:"size:20;not null;default:'scheduled';index" json:"status"`

	ScheduledStart time.Time  `gorm:"not null;index" json:"scheduledStart"`
	ScheduledEnd   time.Time  `gorm:"not null" json:"scheduledEnd"`
	ActualStart    *time.Time `json:"actualStart,omitempty"`
	ActualEnd      *time.Time `json:"actualEnd,omitempty"`
}

func (a *Appointment) GetAccountID() uint { return a.AccountID }
