package types

import "time"

// SessionRequest is a request to log one completed charging session. Only the
// consumed energy is required; rate type and prices are auto-detected when not
// supplied. Pointer fields distinguish "not provided" from zero values.
type SessionRequest struct {
	EnergyKWH float64 `json:"energyKWH"`

	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	CarID     *int64     `json:"carID,omitempty"`

	// RateType, when set, always wins over auto-detection. Validated against
	// {HIGH, LOW} before any resolution runs.
	RateType *RateType `json:"rateType,omitempty"`

	// PricePerKWH is the explicit price per kWh without VAT. Resolved
	// independently of VATPercentage.
	PricePerKWH   *float64 `json:"pricePerKWH,omitempty"`
	VATPercentage *float64 `json:"vatPercentage,omitempty"`

	// Passthrough fields, forwarded untouched.
	Location     string `json:"location,omitempty"`
	ExternalID   string `json:"externalID,omitempty"`
	Provider     string `json:"provider,omitempty"`
	EnergySource string `json:"energySource,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// Session is one charging session as recorded by the tracker cloud API.
type Session struct {
	ID               int64    `json:"id"`
	CarID            int64    `json:"carId"`
	CarName          string   `json:"carName"`
	EnergyKWH        float64  `json:"energyConsumedKwh"`
	StartTime        string   `json:"startTime"`
	EndTime          string   `json:"endTime"`
	Location         string   `json:"location"`
	Provider         string   `json:"provider"`
	EnergySource     string   `json:"energySource"`
	RateType         string   `json:"rateType"`
	PricePerKWH      *float64 `json:"pricePerKwhWithoutVat"`
	VATPercentage    *float64 `json:"vatPercentage"`
	TotalCostWithVAT *float64 `json:"totalCostWithVat"`
	ExternalID       string   `json:"externalId"`
	Notes            string   `json:"notes"`
}

// SessionLogRecord is the local journal entry persisted for every session the
// service forwarded to the cloud, including how the rate and price were
// resolved.
type SessionLogRecord struct {
	Time      time.Time `json:"time"`
	CarID     int64     `json:"carID"`
	EnergyKWH float64   `json:"energyKWH"`

	RateType      *RateType `json:"rateType,omitempty"`
	PricePerKWH   *float64  `json:"pricePerKWH,omitempty"`
	VATPercentage *float64  `json:"vatPercentage,omitempty"`

	// RateResolution records where the rate type came from: "explicit",
	// "schedule", "entity" or "none".
	RateResolution string `json:"rateResolution"`

	ExternalID string `json:"externalID,omitempty"`
	SessionID  int64  `json:"sessionID,omitempty"`
}

// Car is a vehicle registered with the tracker cloud API.
type Car struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}

// PeriodStats holds aggregated statistics for a calendar period as returned by
// the tracker cloud API.
type PeriodStats struct {
	EnergyKWH         float64 `json:"energyConsumedKwh"`
	TotalCostWithVAT  float64 `json:"totalCostWithVat"`
	SessionCount      int     `json:"sessionCount"`
	AverageCostPerKWH float64 `json:"averageCostPerKwh"`
	Currency          string  `json:"currency"`
}

// TrackerState is the aggregated statistics snapshot the coordinator polls
// from the tracker cloud API.
type TrackerState struct {
	LastSession  *Session     `json:"lastSession"`
	CurrentMonth *PeriodStats `json:"currentMonth"`
	CurrentYear  *PeriodStats `json:"currentYear"`
	Cars         []Car        `json:"cars"`
}
