package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"studyroom/internal/apperr"
)

var errMissing = apperr.NotFound("student not found")

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: apperr.Validation("bad"), want: http.StatusBadRequest},
		{name: "unauthorized", err: apperr.Unauthorized("no org"), want: http.StatusUnauthorized},
		{name: "not found", err: errMissing, want: http.StatusNotFound},
		{name: "conflict", err: apperr.Conflict("dup"), want: http.StatusConflict},
		{name: "persistence", err: apperr.Persistence("insert", errors.New("boom")), want: http.StatusInternalServerError},
		{name: "provider", err: apperr.Provider("solapi send", errors.New("timeout")), want: http.StatusInternalServerError},
		{name: "plain error", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.Status(tt.err))
		})
	}
}

func TestWrapKeepsSentinel(t *testing.T) {
	err := fmt.Errorf("checkout: %w", apperr.Wrap(errMissing, errors.New("no rows")))
	assert.ErrorIs(t, err, errMissing)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	assert.Equal(t, "student not found: no rows", errors.Unwrap(err).Error())
}

func TestPublicMessageHidesDriverErrors(t *testing.T) {
	err := apperr.Persistence("insert session", errors.New("pq: connection refused"))
	assert.Equal(t, "insert session", apperr.PublicMessage(err))
	assert.Equal(t, "internal error", apperr.PublicMessage(errors.New("raw")))
}

func TestFieldsOf(t *testing.T) {
	err := apperr.Validation("too long", apperr.FieldError{Field: "숙제", Error: "max 50"})
	assert.Len(t, apperr.FieldsOf(err), 1)
	assert.Nil(t, apperr.FieldsOf(errors.New("x")))
}

func TestBodyOf(t *testing.T) {
	body := apperr.BodyOf(apperr.Validation("too long", apperr.FieldError{Field: "복습팁", Error: "max 50"}))
	assert.Equal(t, apperr.KindValidation, body.Class)
	assert.Equal(t, "too long", body.Error)
	assert.Len(t, body.Fields, 1)

	body = apperr.BodyOf(errors.New("driver exploded"))
	assert.Equal(t, apperr.Body{Error: "internal error", Class: apperr.KindPersistence}, body)
}
