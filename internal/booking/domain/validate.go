package domain

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MinPhoneDigits = 9
	MaxPhoneDigits = 15
	MaxPassengers  = 50
)

// NewBooking is the submitter-supplied part of a Booking.
type NewBooking struct {
	Phone           string   `json:"phone" validate:"required,phonedigits"`
	TripType        TripType `json:"tripType" validate:"required,oneof=passenger delivery"`
	Passengers      *int     `json:"passengers" validate:"required_if=TripType passenger,omitempty,min=1,max=50"`
	FromCity        string   `json:"fromCity" validate:"required"`
	ToCity          string   `json:"toCity" validate:"required"`
	RequesterID     string   `json:"requesterId" validate:"omitempty,max=64"`
	RequesterHandle string   `json:"requesterHandle" validate:"omitempty,max=64"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phonedigits", func(fl validator.FieldLevel) bool {
		n := PhoneDigits(fl.Field().String())
		return n >= MinPhoneDigits && n <= MaxPhoneDigits
	})
	return v
}

// PhoneDigits counts the ASCII digits in raw. Everything else, including
// digits from other scripts, is formatting.
func PhoneDigits(raw string) int {
	n := 0
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// Normalize trims free-text fields, resolves trip type aliases and drops a
// passenger count sent along with a delivery.
func (n NewBooking) Normalize() NewBooking {
	n.Phone = strings.TrimSpace(n.Phone)
	n.FromCity = strings.TrimSpace(n.FromCity)
	n.ToCity = strings.TrimSpace(n.ToCity)
	n.RequesterID = strings.TrimSpace(n.RequesterID)
	n.RequesterHandle = strings.TrimSpace(n.RequesterHandle)
	if tt, ok := ParseTripType(strings.ToLower(strings.TrimSpace(string(n.TripType)))); ok {
		n.TripType = tt
	}
	if n.TripType == TripDelivery {
		n.Passengers = nil
	}
	return n
}

// Validate normalizes the input and checks it, returning *ValidationError
// on bad input.
func (n NewBooking) Validate() (NewBooking, error) {
	n = n.Normalize()
	if err := validate.Struct(n); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			details := make([]FieldError, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				details = append(details, FieldError{Field: fe.Field(), Message: messageFor(fe), Code: fe.Tag()})
			}
			return n, &ValidationError{Details: details}
		}
		return n, err
	}
	return n, nil
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "phonedigits":
		return "must contain 9 to 15 digits"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	default:
		return "is invalid"
	}
}
