package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrors_Existence(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrInvalidInput", ErrInvalidInput},
		{"ErrUnsupportedType", ErrUnsupportedType},
		{"ErrNotSupported", ErrNotSupported},
		{"ErrPassInProgress", ErrPassInProgress},
		{"ErrPassAborted", ErrPassAborted},
		{"ErrStoreClosed", ErrStoreClosed},
		{"ErrRateLimited", ErrRateLimited},
		{"ErrAuthInvalid", ErrAuthInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.err)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestMappingError(t *testing.T) {
	err := &MappingError{Entity: EntityProduct, Field: "price", Path: "variants.0.price", Reason: "path does not resolve"}
	assert.Equal(t, `mapping product.price (path "variants.0.price"): path does not resolve`, err.Error())

	wrapped := fmt.Errorf("validating: %w", err)
	assert.True(t, IsMappingError(wrapped))
	assert.False(t, IsMappingError(ErrInvalidInput))

	assert.Equal(t, "mapping: bad", (&MappingError{Reason: "bad"}).Error())
}

func TestNewRemoteError(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
		sentinel  error
	}{
		{http.StatusTooManyRequests, true, ErrRateLimited},
		{http.StatusInternalServerError, true, nil},
		{http.StatusBadGateway, true, nil},
		{http.StatusUnauthorized, false, ErrAuthInvalid},
		{http.StatusForbidden, false, ErrAuthInvalid},
		{http.StatusNotFound, false, ErrNotFound},
		{http.StatusUnprocessableEntity, false, nil},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			err := NewRemoteError("shop", tt.code, "boom")
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(fmt.Errorf("wrapped: %w", err)))
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
			assert.Equal(t, fmt.Sprintf("shop: remote error %d: boom", tt.code), err.Error())
		})
	}
}

func TestNewTransportError(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewTransportError("sheet", cause)

	assert.True(t, err.Retryable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "sheet: transport error: connection reset", err.Error())
	assert.False(t, IsRetryable(cause))
}

func TestLinkAmbiguityError(t *testing.T) {
	err := &LinkAmbiguityError{Entity: EntityProduct, Side: SideTarget, Key: "sku", Value: "H-1", IDs: []string{"r1", "r2"}}
	assert.Equal(t, `ambiguous product link on target: sku="H-1" matches 2 records (r1, r2)`, err.Error())
}
