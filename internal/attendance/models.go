package attendance

import (
	"errors"
	"time"
)

var (
	ErrOutsideGeofence = errors.New("device is outside the batch geofence")
	ErrBatchNotFound   = errors.New("batch not found")
	ErrAlreadyMarked   = errors.New("attendance already marked for this date")
	ErrHoliday         = errors.New("date is a holiday")
	ErrRecordNotFound  = errors.New("attendance record not found")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrNotInBatch      = errors.New("user is not enrolled in the batch")
)

type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLeave   Status = "leave"
)

// Zone is the fixed UTC+05:30 offset attendance dates are kept in.
var Zone = time.FixedZone("IST", 5*60*60+30*60)

const dateLayout = "2006-01-02"

// Day formats t as an attendance date.
func Day(t time.Time) string { return t.In(Zone).Format(dateLayout) }

func parseDay(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, Zone)
}

// Batch is a class group meeting at one place.
type Batch struct {
	ID       string  `json:"$id"`
	Name     string  `json:"name"`
	TradeID  string  `json:"tradeId"`
	Location *Coord  `json:"location"`
	Radius   float64 `json:"radius"` // meters, 0 selects the configured default
}

// Profile is the part of a user profile attendance reads.
type Profile struct {
	ID      string `json:"$id"`
	UserID  string `json:"userId"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	BatchID string `json:"batchId"`
}

// Record is one attendance document.
type Record struct {
	ID             string    `json:"$id,omitempty"`
	UserID         string    `json:"userId"`
	BatchID        string    `json:"batchId"`
	Date           string    `json:"date"`
	Status         Status    `json:"status"`
	MarkedAt       time.Time `json:"markedAt"`
	Auto           bool      `json:"auto,omitempty"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	DistanceMeters *float64  `json:"distanceMeters,omitempty"`
}

func recordKey(userID, batchID, date string) string {
	return "attendance|" + userID + "|" + batchID + "|" + date
}
