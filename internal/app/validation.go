package app

import (
	"errors"
	"fmt"
	"html"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"live-quiz-service/internal/domain"
)

// QuestionInput is a question as authored by the host.
type QuestionInput struct {
	Text          string              `json:"question_text" validate:"required,max=500"`
	Type          domain.QuestionType `json:"question_type" validate:"oneof=text image video audio"`
	MediaURL      string              `json:"media_url" validate:"required_unless=Type text,max=2048"`
	Options       []string            `json:"options" validate:"len=4,dive,required,max=200"`
	CorrectAnswer int                 `json:"correct_answer" validate:"min=0,max=3"`
	TimeLimit     int                 `json:"time_limit" validate:"min=1,max=300"`
	Points        int                 `json:"points" validate:"min=0,max=100000"`
}

// CreateSessionInput is the payload for creating a session.
type CreateSessionInput struct {
	Title       string          `json:"title" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=2000"`
	Questions   []QuestionInput `json:"questions" validate:"dive"`
}

// UpdateSessionInput changes session metadata.
type UpdateSessionInput struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

// RegisterPlayerInput registers a player in a session.
type RegisterPlayerInput struct {
	Username string `json:"username" validate:"required,max=32"`
	Avatar   string `json:"avatar" validate:"max=16"`
}

// SubmitAnswerInput is one player's answer.
type SubmitAnswerInput struct {
	QuestionID     string  `json:"question_id" validate:"required"`
	PlayerID       string  `json:"player_id" validate:"required"`
	SelectedOption int     `json:"selected_option" validate:"min=0,max=3"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

var (
	validate = newValidator()
	strip    = bluemonday.StrictPolicy()
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// sanitize removes markup and surrounding whitespace from user text. Entities are
// decoded only when decoding cannot produce markup again.
func sanitize(s string) string {
	out := strip.Sanitize(s)
	if plain := html.UnescapeString(out); !strings.ContainsAny(plain, "<>") {
		out = plain
	}
	return strings.TrimSpace(out)
}

func (in *QuestionInput) normalize() {
	in.Text = sanitize(in.Text)
	in.MediaURL = strings.TrimSpace(in.MediaURL)
	if in.Type == "" {
		in.Type = domain.QuestionText
	}
	if in.TimeLimit == 0 {
		in.TimeLimit = domain.DefaultTimeLimit
	}
	if in.Points == 0 {
		in.Points = domain.DefaultPoints
	}
	for i := range in.Options {
		in.Options[i] = sanitize(in.Options[i])
	}
}

func (in *CreateSessionInput) normalize() {
	in.Title = sanitize(in.Title)
	in.Description = sanitize(in.Description)
	for i := range in.Questions {
		in.Questions[i].normalize()
	}
}

func (in *UpdateSessionInput) normalize() {
	in.Title = sanitize(in.Title)
	in.Description = sanitize(in.Description)
}

func (in *RegisterPlayerInput) normalize() {
	in.Username = sanitize(in.Username)
	in.Avatar = strings.TrimSpace(in.Avatar)
}

func (in SubmitAnswerInput) check() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if math.IsNaN(in.ElapsedSeconds) || math.IsInf(in.ElapsedSeconds, 0) {
		return domain.NewValidationError("elapsed_seconds", "must be a finite number")
	}
	return nil
}

// validateStruct runs the struct tags and converts the first failure to a ValidationError.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewValidationError("", err.Error())
	}
	fe := verrs[0]
	return domain.NewValidationError(fieldPath(fe.Namespace()), reason(fe))
}

// fieldPath drops the struct type prefix from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_unless":
		return "is required for media questions"
	case "len":
		return fmt.Sprintf("must have exactly %s items", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}
