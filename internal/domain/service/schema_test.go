package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionAcceptsNumbersAndStrings(t *testing.T) {
	var s struct {
		A Version `json:"a"`
		B Version `json:"b"`
		C Version `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":2,"b":"beta","c":null}`), &s))

	assert.Equal(t, Version("2"), s.A)
	assert.Equal(t, Version("beta"), s.B)
	assert.Equal(t, Version(""), s.C)

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2,"b":"beta","c":null}`, string(out))
}

func TestFullNames(t *testing.T) {
	assert.Equal(t, "greeter", FullNameOf("greeter", ""))
	assert.Equal(t, "v2.greeter", FullNameOf("greeter", "2"))
	assert.Equal(t, "staging.greeter", FullNameOf("greeter", "staging"))

	s := Schema{Name: "erp", Version: "1"}
	assert.Equal(t, "v1.erp", s.ResolvedFullName())
	assert.Equal(t, "v1.erp.invoice", s.ActionName("invoice", ActionSchema{}))
	assert.Equal(t, "v1.erp.invoice", s.ActionName("x", ActionSchema{Name: "v1.erp.invoice"}))
	assert.Equal(t, "order.created", s.EventName("order.created", EventSchema{}))
}
