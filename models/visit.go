package models

import "time"

const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// VisitEvent is one tracked inbound request. Rows are written once by the
// recorder and never updated.
type VisitEvent struct {
	ID         string    `json:"id" db:"id"`
	Path       string    `json:"path" db:"path"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
	IPAddress  *string   `json:"ip_address" db:"ip_address"`
	UserID     *int64    `json:"user_id" db:"user_id"`
	SessionKey *string   `json:"session_key" db:"session_key"`
	Referrer   *string   `json:"referrer" db:"referrer"`
	UserAgent  *string   `json:"user_agent" db:"user_agent"`
	DeviceType *string   `json:"device_type" db:"device_type"`
}

// DayCount is one bucket of the visits-by-day series.
type DayCount struct {
	Day   time.Time `db:"day"`
	Count uint64    `db:"visits"`
}

type PageCount struct {
	Path  string `json:"path" db:"path"`
	Count uint64 `json:"count" db:"visits"`
}

type DayVisits struct {
	Day   string `json:"day"`
	Count uint64 `json:"count"`
}

type DateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Overview is the payload of the report overview endpoint.
type Overview struct {
	TotalVisits              uint64      `json:"total_visits"`
	UniqueIPs                uint64      `json:"unique_ips"`
	UniqueSessions           uint64      `json:"unique_sessions"`
	UniqueAuthenticatedUsers uint64      `json:"unique_authenticated_users"`
	EstimatedUniqueVisitors  uint64      `json:"estimated_unique_visitors"`
	VisitsByDay              []DayVisits `json:"visits_by_day"`
	PopularPages             []PageCount `json:"popular_pages"`
	DateRange                DateRange   `json:"date_range"`
}
