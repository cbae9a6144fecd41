package membertree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistrationValidate(t *testing.T) {
	assert := assert.New(t)

	r := Registration{
		Code:              " M-001 ",
		Name:              "José",
		Email:             " m1@example.com",
		SponsorCode:       "ROOT_1",
		PreferredPosition: " Right ",
	}
	r.Normalize()
	assert.NoError(r.Validate())
	assert.Equal("M-001", r.Code)
	assert.Equal("m1@example.com", r.Email)
	assert.Equal(PositionRight, r.PreferredPosition)
	assert.Equal("José", r.Name)

	err := (&Registration{Code: "a b", Email: "nope"}).Validate()
	assert.ErrorIs(err, ErrInvalidInput)
	assert.ErrorContains(err, "member_code may only contain")
	assert.ErrorContains(err, "name is required")
	assert.ErrorContains(err, "email is not a valid email address")
}

func TestValidateCode(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(ValidateCode("ABC_12-x"))
	assert.ErrorIs(ValidateCode(""), ErrInvalidInput)
	assert.ErrorIs(ValidateCode("has space"), ErrInvalidInput)
	assert.ErrorIs(ValidateCode("ünï"), ErrInvalidInput)
}

func TestParsePosition(t *testing.T) {
	assert := assert.New(t)

	p, err := ParsePosition("left")
	assert.NoError(err)
	assert.Equal(PositionLeft, p)
	p, err = ParsePosition("")
	assert.NoError(err)
	assert.Empty(p)
	_, err = ParsePosition("up")
	assert.ErrorIs(err, ErrInvalidInput)
}
