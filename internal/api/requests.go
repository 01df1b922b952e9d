package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kdimtricp/sitewatch/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CreateSessionRequest holds the non-file fields of POST /api/monitoring.
type CreateSessionRequest struct {
	Filename         string  `validate:"required,max=255"`
	AnalysisInterval float64 `validate:"gt=0,lte=60"`
	AutoTicketFiling bool
}

// UpdateViolationRequest is the body of PATCH .../violations/{violationID}.
type UpdateViolationRequest struct {
	Status string `json:"status" validate:"required,oneof=open in_progress resolved"`
}

func parseCreateForm(filename, interval, autoTicket string) (CreateSessionRequest, error) {
	req := CreateSessionRequest{
		Filename:         filename,
		AnalysisInterval: models.DefaultAnalysisInterval,
		AutoTicketFiling: models.DefaultAutoTicketFiling,
	}

	if s := strings.TrimSpace(interval); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return req, fmt.Errorf("analysis_interval must be a number")
		}
		req.AnalysisInterval = v
	}
	if s := strings.TrimSpace(autoTicket); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return req, fmt.Errorf("auto_ticket_filing must be a boolean")
		}
		req.AutoTicketFiling = v
	}

	if err := validateRequest(req); err != nil {
		return req, err
	}
	return req, nil
}

// validateRequest flattens validator errors into one readable message.
func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := map[string]string{
		"Filename":         "video",
		"AnalysisInterval": "analysis_interval",
		"Status":           "status",
	}[fe.Field()]
	if field == "" {
		field = fe.Field()
	}

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	}
	return fmt.Sprintf("%s is invalid", field)
}
