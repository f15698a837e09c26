package dispatcher

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		resp     harvest.FetchResponse
		err      error
		kind     harvest.OutcomeKind
		payload  string
		notFound bool
	}{
		{name: "success", resp: harvest.FetchResponse{StatusCode: 200, Body: []byte(`{"information":"2cba8153f2ff"}`)}, kind: harvest.OutcomeSuccess, payload: "2cba8153f2ff"},
		{name: "empty information", resp: harvest.FetchResponse{StatusCode: 200, Body: []byte(`{"information":""}`)}, kind: harvest.OutcomeSuccess},
		{name: "missing field", resp: harvest.FetchResponse{StatusCode: 200, Body: []byte(`{}`)}, kind: harvest.OutcomeRetryable},
		{name: "null field", resp: harvest.FetchResponse{StatusCode: 200, Body: []byte(`{"information":null}`)}, kind: harvest.OutcomeRetryable},
		{name: "not json", resp: harvest.FetchResponse{StatusCode: 200, Body: []byte(`<html>`)}, kind: harvest.OutcomeRetryable},
		{name: "overloaded", resp: harvest.FetchResponse{StatusCode: 503}, kind: harvest.OutcomeRetryable},
		{name: "not found", resp: harvest.FetchResponse{StatusCode: 404}, kind: harvest.OutcomeRetryable, notFound: true},
		{name: "transport", err: errors.New("reset"), kind: harvest.OutcomeRetryable},
		{name: "server error", resp: harvest.FetchResponse{StatusCode: 500}, kind: harvest.OutcomeFatal},
		{name: "redirect", resp: harvest.FetchResponse{StatusCode: 302}, kind: harvest.OutcomeFatal},
		{name: "teapot", resp: harvest.FetchResponse{StatusCode: 418}, kind: harvest.OutcomeFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tt.resp, tt.err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.payload, got.Payload)
			assert.Equal(t, tt.notFound, got.NotFound)
		})
	}
}

func TestClassifyMalformedWrapsSentinel(t *testing.T) {
	t.Parallel()

	_, err := decodeInformation([]byte(`{"information":[1]}`))
	assert.ErrorIs(t, err, harvest.ErrMalformedPayload)
}
