package domain

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Request is one of StockRequest or DatedRequest.
type Request interface {
	Kind() Kind
	Validate(today time.Time) error
}

type StockItem struct {
	UnitID   uuid.UUID `json:"unit_id" validate:"required"`
	Quantity int       `json:"quantity" validate:"min=1,max=10000"`
}

type StockRequest struct {
	Contact Contact     `json:"contact"`
	Notes   string      `json:"notes" validate:"max=2000"`
	Items   []StockItem `json:"items" validate:"required,min=1,max=100,dive"`
}

func (StockRequest) Kind() Kind { return KindStock }

func (r StockRequest) Validate(time.Time) error {
	verr := &ValidationError{}
	collect(verr, r)
	return verr.orNil()
}

type DatedItem struct {
	UnitID uuid.UUID  `json:"unit_id" validate:"required"`
	Stay   *DateRange `json:"-"`
	Guests int        `json:"guests" validate:"min=0,max=50"`
}

type DatedRequest struct {
	Contact Contact     `json:"contact"`
	Notes   string      `json:"notes" validate:"max=2000"`
	Stay    *DateRange  `json:"-"`
	Items   []DatedItem `json:"items" validate:"required,min=1,max=100,dive"`
}

func (DatedRequest) Kind() Kind { return KindDated }

// StayFor returns the item's own stay, falling back to the booking-level one.
func (r DatedRequest) StayFor(i int) (DateRange, bool) {
	if s := r.Items[i].Stay; s != nil {
		return *s, true
	}
	if r.Stay != nil {
		return *r.Stay, true
	}
	return DateRange{}, false
}

func (r DatedRequest) Validate(today time.Time) error {
	verr := &ValidationError{}
	collect(verr, r)

	today = Day(today)
	if r.Stay != nil {
		checkStay(verr, "", *r.Stay, today)
	}
	for i, it := range r.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		switch {
		case it.Stay != nil:
			checkStay(verr, prefix, *it.Stay, today)
		case r.Stay == nil:
			verr.add(prefix+"check_in", "is required")
			verr.add(prefix+"check_out", "is required")
		}
	}
	return verr.orNil()
}

func checkStay(verr *ValidationError, prefix string, s DateRange, today time.Time) {
	if s.CheckIn.IsZero() {
		verr.add(prefix+"check_in", "is required")
	} else if s.CheckIn.Before(today) {
		verr.add(prefix+"check_in", "cannot be in the past")
	}
	if s.CheckOut.IsZero() {
		verr.add(prefix+"check_out", "is required")
	} else if !s.CheckIn.IsZero() && !s.CheckOut.After(s.CheckIn) {
		verr.add(prefix+"check_out", "must be after check_in")
	} else if !s.CheckIn.IsZero() && s.Nights() > MaxNights {
		verr.add(prefix+"check_out", fmt.Sprintf("stay cannot exceed %d nights", MaxNights))
	}
}

var (
	validate   = newValidator()
	phoneRegex = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{5,31}$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phoneRegex.MatchString(fl.Field().String())
	})
	return v
}

func collect(verr *ValidationError, req any) {
	err := validate.Struct(req)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.add("request", err.Error())
		return
	}
	for _, fe := range fieldErrs {
		verr.add(fieldPath(fe.Namespace()), message(fe))
	}
}

// fieldPath drops the root struct name, "StockRequest.items[0].quantity"
// becomes "items[0].quantity".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid phone number"
	case "min":
		return "must be at least " + fe.Param() + unitOf(fe.Kind())
	case "max":
		return "must be at most " + fe.Param() + unitOf(fe.Kind())
	}
	return "failed " + fe.Tag() + " check"
}

func unitOf(k reflect.Kind) string {
	switch k {
	case reflect.Slice:
		return " entries"
	case reflect.String:
		return " characters"
	}
	return ""
}
