package consultation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const tagFullName = "fullname"

// Identity is the patient data captured at the start of a session.
type Identity struct {
	FullName   string `json:"full_name" validate:"required,fullname"`
	NationalID string `json:"national_id"`
	Age        *int   `json:"age" validate:"omitempty,min=0,max=120"`
}

func (id Identity) normalized() Identity {
	id.FullName = strings.Join(strings.Fields(id.FullName), " ")
	id.NationalID = strings.TrimSpace(id.NationalID)
	return id
}

// IdentityValidator checks patient identity input.
type IdentityValidator struct {
	validate       *validator.Validate
	nationalIDRule string
	idLength       int
}

func NewIdentityValidator(nationalIDLength int) *IdentityValidator {
	if nationalIDLength <= 0 {
		nationalIDLength = 8
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, tagFullName, validateFullName)

	return &IdentityValidator{
		validate:       v,
		nationalIDRule: fmt.Sprintf("required,number,len=%d", nationalIDLength),
		idLength:       nationalIDLength,
	}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %q validation: %v", tag, err))
	}
}

// validateFullName wants at least three characters in at least two words.
func validateFullName(fl validator.FieldLevel) bool {
	value := strings.TrimSpace(fl.Field().String())
	if value == "" {
		return true
	}
	return utf8.RuneCountInString(value) >= 3 && len(strings.Fields(value)) >= 2
}

// Validate returns the normalized identity, or a *ValidationError listing
// every problem.
func (iv *IdentityValidator) Validate(in Identity) (Identity, error) {
	id := in.normalized()
	verr := &ValidationError{}

	if err := iv.validate.Struct(id); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return id, err
		}
		for _, fe := range fieldErrs {
			verr.add(fe.Field(), iv.message(fe.Field(), fe.Tag()))
		}
	}
	if err := iv.validate.Var(id.NationalID, iv.nationalIDRule); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return id, err
		}
		verr.add("national_id", iv.message("national_id", fieldErrs[0].Tag()))
	}
	return id, verr.orNil()
}

func (iv *IdentityValidator) message(field, tag string) string {
	switch field {
	case "full_name":
		if tag == "required" {
			return "El nombre es obligatorio."
		}
		return "Ingresa nombre y apellido."
	case "national_id":
		if tag == "required" {
			return "El documento de identidad es obligatorio."
		}
		return fmt.Sprintf("El documento debe tener exactamente %d dígitos.", iv.idLength)
	case "age":
		return "La edad debe estar entre 0 y 120 años."
	}
	return "Valor no válido."
}
