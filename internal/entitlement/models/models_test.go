package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProductIdentity_Validate(t *testing.T) {
	assert.NoError(t, DefaultProduct.Validate())

	assert.Error(t, ProductIdentity{ProductID: "p"}.Validate())
	assert.Error(t, ProductIdentity{CatalogItemID: "c"}.Validate())
}

func TestProductIdentity_Name(t *testing.T) {
	assert.Equal(t, "Logic Driver Pro", DefaultProduct.Name())
	assert.Equal(t, "p-1", ProductIdentity{ProductID: "p-1"}.Name())
}

func TestUnauthorizedHandling(t *testing.T) {
	assert.True(t, HandlingShowMessageOpenStore.IsValid())
	assert.False(t, UnauthorizedHandling(7).IsValid())
	assert.Equal(t, "show_message_open_store", HandlingShowMessageOpenStore.String())
	assert.Equal(t, "unknown(7)", UnauthorizedHandling(7).String())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unverified", StateUnverified.String())
	assert.Equal(t, "verified", StateVerified.String())
}
