package clients

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrValidation wraps every client validation failure.
var ErrValidation = errors.New("clients: invalid client")

var (
	nameRe  = regexp.MustCompile(`(?i)^[a-z'.-]+$`)
	phoneRe = regexp.MustCompile(`^0[0-9]{9}$`)

	validate = validator.New()
)

// ValidationErrors collects the problems found on one client.
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	return strings.Join(v, "; ")
}

func (v ValidationErrors) Unwrap() error {
	return ErrValidation
}

// Validate checks names, phone number and member type rules. It returns nil
// or a ValidationErrors value.
func Validate(c Client) error {
	var problems ValidationErrors

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				problems = append(problems, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	if !nameRe.MatchString(c.FirstName + c.LastName) {
		problems = append(problems, "names can only contain letters and the characters . - '")
	}
	if !phoneRe.MatchString(c.PhoneNumber) {
		problems = append(problems, "phone number must be 0 followed by 9 digits")
	}

	switch c.MemberType {
	case MemberTypeMember:
		if c.InsuranceCompany != "" || c.CorporateCompany != "" {
			problems = append(problems, "member type cannot have an insurance or corporate company")
		}
	case MemberTypeInsurance:
		if c.CorporateCompany != "" {
			problems = append(problems, "insurance member cannot have a corporate company")
		}
		if c.InsuranceCompany == "" || c.InsuranceID == "" {
			problems = append(problems, "insurance company and ID must be provided")
		} else if _, ok := InsuranceCompanies[c.InsuranceCompany]; !ok {
			problems = append(problems, fmt.Sprintf("unknown insurance company %q", c.InsuranceCompany))
		}
	case MemberTypeCorporate:
		if c.InsuranceCompany != "" {
			problems = append(problems, "corporate member cannot have an insurance company")
		}
		if c.CorporateCompany == "" || c.CorporateID == "" {
			problems = append(problems, "corporate company and ID must be provided")
		} else if _, ok := CorporateCompanies[c.CorporateCompany]; !ok {
			problems = append(problems, fmt.Sprintf("unknown corporate company %q", c.CorporateCompany))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return problems
}

func normalise(c Client) Client {
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	c.PhoneNumber = strings.TrimSpace(c.PhoneNumber)
	c.Gender = strings.ToLower(strings.TrimSpace(c.Gender))
	c.MemberType = strings.ToLower(strings.TrimSpace(c.MemberType))
	c.InsuranceCompany = strings.ToLower(strings.TrimSpace(c.InsuranceCompany))
	c.CorporateCompany = strings.ToLower(strings.TrimSpace(c.CorporateCompany))
	c.InsuranceID = strings.TrimSpace(c.InsuranceID)
	c.CorporateID = strings.TrimSpace(c.CorporateID)
	return c
}
