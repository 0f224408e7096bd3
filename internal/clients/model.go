package clients

import "time"

// Gender values.
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

// Member types.
const (
	MemberTypeMember    = "member"
	MemberTypeInsurance = "insurance"
	MemberTypeCorporate = "corporate"
)

// InsuranceCompanies maps accepted insurer codes to display names.
var InsuranceCompanies = map[string]string{
	"acacia":       "Acacia Health Insurance",
	"apex":         "Apex Health Insurance",
	"glico_health": "Glico Health Insurance",
	"glico_tpa":    "Glico TPA",
}

// CorporateCompanies maps accepted corporate partner codes to display names.
var CorporateCompanies = map[string]string{
	"vivo":         "Vivo Energy Limited",
	"mtn":          "MTN Ghana",
	"stanbic_bank": "Stanbic Bank Ghana",
}

// Client is a registered patient or customer attached to a parent facility.
type Client struct {
	ID               string    `json:"client_id"`
	FirstName        string    `json:"first_name" validate:"required,max=255"`
	LastName         string    `json:"last_name" validate:"required,max=255"`
	Gender           string    `json:"gender" validate:"required,oneof=male female other"`
	Age              int       `json:"age" validate:"gte=0,lte=150"`
	PhoneNumber      string    `json:"phone_number" validate:"required"`
	MemberType       string    `json:"member_type" validate:"required,oneof=member insurance corporate"`
	InsuranceCompany string    `json:"insurance_company,omitempty"`
	InsuranceID      string    `json:"insurance_id,omitempty"`
	CorporateCompany string    `json:"corporate_company,omitempty"`
	CorporateID      string    `json:"corporate_id,omitempty"`
	ParentFacilityID int64     `json:"parent_facility_id"`
	JoinedOn         time.Time `json:"date_joined"`
}

// FullName joins first and last name.
func (c Client) FullName() string {
	return c.FirstName + " " + c.LastName
}

// ListFilters narrows client listings.
type ListFilters struct {
	FacilityID int64
	Search     string
	Page       int
	Limit      int
}
