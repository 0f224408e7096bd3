package facilities

import (
	"time"
)

// Facility is a pharmacy or clinic that holds its own stock.
type Facility struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name" validate:"required,max=255"`
	City        string    `json:"city" validate:"required,max=255"`
	Region      string    `json:"region" validate:"required,max=255"`
	Country     string    `json:"country" validate:"required,max=255"`
	StaffNumber int       `json:"staff_number" validate:"gte=0"`
	IsActive    bool      `json:"is_active"`
	AddedAt     time.Time `json:"added_at"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// Label renders "Name, City" for listings.
func (f Facility) Label() string {
	return f.Name + ", " + f.City
}

// ListFilters narrows facility listings.
type ListFilters struct {
	Page     int
	Limit    int
	Search   string
	IsActive *bool
}
