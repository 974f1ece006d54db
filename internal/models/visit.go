package models

import (
	"slices"
	"time"

	"gorm.io/datatypes"
)

type VisitStatus string

const (
	VisitInProgress VisitStatus = "in_progress"
	VisitCompleted  VisitStatus = "completed"
	VisitCancelled  VisitStatus = "cancelled"
)

var VisitStatuses = []VisitStatus{VisitInProgress, VisitCompleted, VisitCancelled}

// VisitSession is one on-site survey. Its children are removed with it.
type VisitSession struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	AccountID uint      `gorm:"index;not null" json:"accountId"`

	CustomerID    uint      `gorm:"index;not null" json:"customerId"`
	Customer      *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	AppointmentID *uint     `gorm:"index" json:"appointmentId,omitempty"`
	SurveyorID    uint      `gorm:"index" json:"surveyorId"`

	Status      VisitStatus `gorm:"size:20;not null;default:'in_progress';index" json:"status"`
	StartedAt   time.Time   `gorm:"not null" json:"startedAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	Notes       string      `gorm:"type:text" json:"notes,omitempty"`

	// ShareID grants unauthenticated read access when set.
	ShareID *string `gorm:"size:64;uniqueIndex" json:"shareId,omitempty"`

	Modules      []SurveyModule     `gorm:"foreignKey:VisitID;constraint:OnDelete:CASCADE" json:"modules,omitempty"`
	Observations []VisitObservation `gorm:"foreignKey:VisitID;constraint:OnDelete:CASCADE" json:"observations,omitempty"`
	Media        []MediaAttachment  `gorm:"foreignKey:VisitID;constraint:OnDelete:CASCADE" json:"media,omitempty"`
	Transcripts  []Transcription    `gorm:"foreignKey:VisitID;constraint:OnDelete:CASCADE" json:"transcriptions,omitempty"`
}

func (v *VisitSession) GetAccountID() uint { return v.AccountID }

type ModuleType string

const (
	ModuleCentralHeating ModuleType = "central_heating"
	ModuleBoiler         ModuleType = "boiler"
	ModuleHotWater       ModuleType = "hot_water"
	ModuleHeatPump       ModuleType = "heat_pump"
	ModuleSolarPV        ModuleType = "solar_pv"
	ModuleElectrical     ModuleType = "electrical"
	ModuleVentilation    ModuleType = "ventilation"
	ModuleInsulation     ModuleType = "insulation"
	ModuleGeneral        ModuleType = "general"
)

var ModuleTypes = []ModuleType{
	ModuleCentralHeating, ModuleBoiler, ModuleHotWater, ModuleHeatPump, ModuleSolarPV,
	ModuleElectrical, ModuleVentilation, ModuleInsulation, ModuleGeneral,
}

func (m ModuleType) Valid() bool { return slices.Contains(ModuleTypes, m) }

type ModuleStatus string

const (
	ModulePending    ModuleStatus = "pending"
	ModuleInProgress ModuleStatus = "in_progress"
	ModuleCompleted  ModuleStatus = "completed"
)

var ModuleStatuses = []ModuleStatus{ModulePending, ModuleInProgress, ModuleCompleted}

// SurveyModule is a structured section of a visit, e.g. the boiler survey.
type SurveyModule struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	VisitID     uint              `gorm:"index;not null" json:"visitId"`
	ModuleType  ModuleType        `gorm:"size:30;not null" json:"moduleType"`
	Status      ModuleStatus      `gorm:"size:20;not null;default:'pending'" json:"status"`
	Data        datatypes.JSONMap `json:"data"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	SortOrder   int               `gorm:"not null;default:0" json:"sortOrder"`
}

type TranscriptionSource string

const (
	SourceUpload TranscriptionSource = "upload"
	SourceLive   TranscriptionSource = "live"
)

type TranscriptionStatus string

const (
	TranscriptionPending   TranscriptionStatus = "pending"
	TranscriptionCompleted TranscriptionStatus = "completed"
	TranscriptionFailed    TranscriptionStatus = "failed"
)

type Transcription struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	VisitID      uint                `gorm:"index;not null" json:"visitId"`
	AudioMediaID *uint               `json:"audioMediaId,omitempty"`
	Text         string              `gorm:"type:text" json:"text"`
	Language     string              `gorm:"size:10" json:"language,omitempty"`
	Source       TranscriptionSource `gorm:"size:10;not null" json:"source"`
	Status       TranscriptionStatus `gorm:"size:20;not null" json:"status"`
	DurationSec  float64             `json:"durationSec,omitempty"`
	Confidence   float64             `json:"confidence,omitempty"`
}

type ObservationSource string

const (
	ObservationAI     ObservationSource = "ai"
	ObservationManual ObservationSource = "manual"
)

// VisitObservation is one structured fact extracted from or typed into a visit.
type VisitObservation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	VisitID         uint              `gorm:"index;not null" json:"visitId"`
	TranscriptionID *uint             `gorm:"index" json:"transcriptionId,omitempty"`
	Category        string            `gorm:"size:50;not null" json:"category"`
	Label           string            `gorm:"size:100;not null" json:"label"`
	Value           string            `gorm:"size:500" json:"value"`
	Unit            string            `gorm:"size:20" json:"unit,omitempty"`
	Confidence      float64           `json:"confidence,omitempty"`
	Source          ObservationSource `gorm:"size:10;not null" json:"source"`
}

// MediaAttachment is an uploaded file. VisitID and CustomerID are optional.
type MediaAttachment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	AccountID uint      `gorm:"index;not null" json:"accountId"`

	VisitID      *uint             `gorm:"index" json:"visitId,omitempty"`
	CustomerID   *uint             `gorm:"index" json:"customerId,omitempty"`
	StoredName   string            `gorm:"size:255;not null;uniqueIndex" json:"-"`
	OriginalName string            `gorm:"size:255" json:"originalName"`
	MimeType     string            `gorm:"size:100" json:"mimeType"`
	SizeBytes    int64             `json:"sizeBytes"`
	Caption      string            `gorm:"size:500" json:"caption,omitempty"`
	Annotations  datatypes.JSONMap `json:"annotations,omitempty"`
	UploadedByID uint              `json:"uploadedById"`
}

func (m *MediaAttachment) GetAccountID() uint { return m.AccountID }
