package models

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hyperjump/datalens/internal/apperrors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DatabaseInput is the body of a database submission. Either ConnectionString
// or the discrete connection fields must be provided.
type DatabaseInput struct {
	Name             string `json:"name" validate:"required,max=200"`
	ConnectionString string `json:"connectionString,omitempty" validate:"required_without=Host"`
	DBType           string `json:"dbType,omitempty" validate:"omitempty,oneof=mysql postgresql mongodb"`
	Host             string `json:"host,omitempty" validate:"required_without=ConnectionString"`
	Port             int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Username         string `json:"username,omitempty" validate:"required_with=Host"`
	Password         string `json:"password,omitempty"`
	DatabaseName     string `json:"databaseName,omitempty" validate:"required_with=Host"`
}

// Validate checks the input and returns a ValidationError naming the first bad field.
func (in *DatabaseInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.ConnectionString = strings.TrimSpace(in.ConnectionString)
	if err := validate.Struct(in); err != nil {
		return translateValidation(err)
	}
	if in.ConnectionString == "" && in.DBType == "" {
		return apperrors.NewValidationError("dbType", "is required when connectionString is absent")
	}
	return nil
}

// DataSource converts the input into an unsaved database DataSource owned by ownerID.
func (in *DatabaseInput) DataSource(ownerID string) *DataSource {
	conn := in.ConnectionString
	dbType := in.DBType
	if conn == "" {
		conn = in.buildConnectionString()
	}
	if dbType == "" {
		dbType = DetectDBType(conn)
	}
	return &DataSource{
		OwnerID:  ownerID,
		Name:     in.Name,
		Kind:     KindDatabase,
		DBConfig: &DBConfig{ConnectionString: conn, DBType: dbType},
		Status:   StatusPending,
	}
}

func (in *DatabaseInput) buildConnectionString() string {
	port := in.Port
	if port == 0 {
		port = DefaultPort(in.DBType)
	}
	u := url.URL{
		Scheme: in.DBType,
		Host:   net.JoinHostPort(in.Host, strconv.Itoa(port)),
		Path:   "/" + in.DatabaseName,
	}
	if in.Password != "" {
		u.User = url.UserPassword(in.Username, in.Password)
	} else {
		u.User = url.User(in.Username)
	}
	return u.String()
}

// DefaultPort returns the conventional port for a database type.
func DefaultPort(dbType string) int {
	switch dbType {
	case DBTypeMySQL:
		return 3306
	case DBTypePostgreSQL:
		return 5432
	default:
		return 27017
	}
}

// AskInput is the body of a chat question.
type AskInput struct {
	Question string `json:"question" validate:"required,max=4000"`
}

// Validate trims the question and rejects empty ones.
func (in *AskInput) Validate() error {
	in.Question = strings.TrimSpace(in.Question)
	if err := validate.Struct(in); err != nil {
		return translateValidation(err)
	}
	return nil
}

func translateValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.NewValidationError("", err.Error())
	}
	fe := verrs[0]
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return apperrors.NewValidationError(field, "is required")
	case "required_without":
		return apperrors.NewValidationError(field, fmt.Sprintf("is required when %s is absent", lowerFirst(fe.Param())))
	case "required_with":
		return apperrors.NewValidationError(field, fmt.Sprintf("is required with %s", lowerFirst(fe.Param())))
	case "oneof":
		return apperrors.NewValidationError(field, "must be one of: "+fe.Param())
	case "min", "max":
		if fe.Kind() == reflect.String {
			return apperrors.NewValidationError(field, "is too long")
		}
		return apperrors.NewValidationError(field, "is out of range")
	default:
		return apperrors.NewValidationError(field, "is invalid")
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
