package api

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/pkg/errors"

	"schoolchat/internal/db"
	"schoolchat/internal/models"
)

func newValidator() (*validator.Validate, ut.Translator) {
	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")

	validate := validator.New()
	_ = en_translations.RegisterDefaultTranslations(validate, trans)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate, trans
}

var errBadBody = errors.New("Invalid request body")

type validationError struct {
	fields map[string]string
}

func (e validationError) Error() string { return "Invalid data" }

// bind decodes the JSON body into out and validates it.
func (h *Handlers) bind(r *http.Request, out interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return errBadBody
	}
	if err := h.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return errors.Wrap(err, "validate")
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Translate(h.trans)
		}
		return validationError{fields: fields}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Message: message})
}

// fail maps store and binding errors to HTTP responses.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr validationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Message: verr.Error(), Errors: verr.fields})
		return
	}

	switch cause := errors.Cause(err); cause {
	case errBadBody, db.ErrSelfRequest:
		writeError(w, http.StatusBadRequest, cause.Error())
	case db.ErrNotFound:
		writeError(w, http.StatusNotFound, "Not found")
	case db.ErrDuplicateRequest, db.ErrAlreadyConnected, db.ErrEmailTaken:
		writeError(w, http.StatusConflict, cause.Error())
	case db.ErrNotConnected:
		writeError(w, http.StatusForbidden, cause.Error())
	default:
		h.logger.Error(err, "%s %s", r.Method, r.URL.Path)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
