package dispatcher

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
)

type payload struct {
	Information *json.RawMessage `json:"information"`
}

// Classify maps one fetch result onto an attempt Outcome.
//
//	200 with {"information": "<string>"}  success
//	200 otherwise                         retryable (malformed payload)
//	503                                   retryable
//	404                                   retryable, tagged not found
//	transport error or timeout            retryable
//	anything else                         fatal
func Classify(resp harvest.FetchResponse, err error) harvest.Outcome {
	if err != nil {
		return harvest.Outcome{Kind: harvest.OutcomeRetryable, Reason: err.Error()}
	}
	code := resp.StatusCode
	switch code {
	case http.StatusOK:
		info, perr := decodeInformation(resp.Body)
		if perr != nil {
			return harvest.Outcome{Kind: harvest.OutcomeRetryable, StatusCode: code, Reason: perr.Error()}
		}
		return harvest.Outcome{Kind: harvest.OutcomeSuccess, StatusCode: code, Payload: info}
	case http.StatusServiceUnavailable:
		return harvest.Outcome{Kind: harvest.OutcomeRetryable, StatusCode: code, Reason: "replica overloaded (503)"}
	case http.StatusNotFound:
		return harvest.Outcome{
			Kind:       harvest.OutcomeRetryable,
			StatusCode: code,
			Reason:     "no data (404 Not Found)",
			NotFound:   true,
		}
	default:
		return harvest.Outcome{
			Kind:       harvest.OutcomeFatal,
			StatusCode: code,
			Reason:     fmt.Sprintf("unexpected status %d", code),
		}
	}
}

func decodeInformation(body []byte) (string, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", fmt.Errorf("%w: %v", harvest.ErrMalformedPayload, err)
	}
	if p.Information == nil {
		return "", fmt.Errorf("%w: missing information field", harvest.ErrMalformedPayload)
	}
	var info string
	if err := json.Unmarshal(*p.Information, &info); err != nil {
		return "", fmt.Errorf("%w: information is not a string", harvest.ErrMalformedPayload)
	}
	return info, nil
}
