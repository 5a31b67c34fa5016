package validations

import (
	"context"

	pkgError "github.com/AzielCF/az-desk/pkg/error"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type IngestRequest struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
}

func ValidateIngestRequest(ctx context.Context, request IngestRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.UserID, validation.Required),
		validation.Field(&request.Text, validation.Required, validation.Length(1, 8000)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
