package validations

import (
	"context"

	pkgError "github.com/AzielCF/az-desk/pkg/error"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type SessionMessageRequest struct {
	Text string `json:"text"`
}

func ValidateSessionMessage(ctx context.Context, request SessionMessageRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Text, validation.Required, validation.Length(1, 8000)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

type DispatchRequest struct {
	Target string `json:"target"`
	Text   string `json:"text"`
}

func ValidateDispatchRequest(ctx context.Context, request DispatchRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Target, validation.Required),
		validation.Field(&request.Text, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
