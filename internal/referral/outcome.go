package referral

import (
	"context"

	"github.com/Iron-Ham/autoref/internal/remote"
)

// unknownError is reported when a rejection carries no explanation.
const unknownError = "Unknown error"

// Confirmer applies a referral code to an account.
type Confirmer interface {
	ConfirmReferral(ctx context.Context, token, code string) (*remote.ConfirmResponse, error)
}

// Outcome is the classified result of one confirmation attempt.
type Outcome struct {
	Success        bool
	ConfirmedToken string
	UserID         string
	Message        string
	Error          string
}

// Confirm applies code to the account behind token and classifies the
// response. It never returns an error: transport failures and rejections
// both come back as an unsuccessful Outcome.
//
// A code is accepted only when the response code is 200 and a token is
// present. A rejection reports the service's error, else its message, else
// "Unknown error".
func Confirm(ctx context.Context, c Confirmer, token, code string) Outcome {
	resp, err := c.ConfirmReferral(ctx, token, code)
	if err != nil {
		return Outcome{Error: err.Error()}
	}
	return Classify(resp)
}

// Classify turns a confirmation response into an Outcome.
func Classify(resp *remote.ConfirmResponse) Outcome {
	if resp == nil {
		return Outcome{Error: unknownError}
	}

	if resp.Code == 200 && resp.Data.Token != "" {
		return Outcome{
			Success:        true,
			ConfirmedToken: resp.Data.Token,
			UserID:         string(resp.Data.UserID),
			Message:        resp.Message,
		}
	}

	msg := resp.Error
	if msg == "" {
		msg = resp.Message
	}
	if msg == "" {
		msg = unknownError
	}
	return Outcome{Error: msg}
}
