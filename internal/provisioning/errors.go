package provisioning

import (
	"errors"

	"github.com/minipay/onboarding/internal/authz"
	"github.com/minipay/onboarding/internal/documents"
	apierrors "github.com/minipay/onboarding/internal/errors"
	"github.com/minipay/onboarding/internal/identity"
	"github.com/minipay/onboarding/internal/partner"
	"github.com/minipay/onboarding/internal/wallet"
)

func invalidFields(errs []FieldError) *apierrors.Error {
	return apierrors.New(apierrors.ErrCodeInvalidArgument, "one or more fields are invalid").
		WithDetails(map[string]interface{}{"fields": errs})
}

func authzError(err error) *apierrors.Error {
	if errors.Is(err, authz.ErrUnknownRole) {
		return apierrors.New(apierrors.ErrCodeInvalidArgument, "unsupported role").
			WithDetails(map[string]interface{}{"fields": []FieldError{{Field: "role", Reason: "must be admin, ambassador or customer"}}})
	}
	return apierrors.Wrap(apierrors.ErrCodePermissionDenied, "caller is not allowed to perform this action", err)
}

// classify maps a sequence failure to the caller-facing taxonomy. The
// message never names the failing step.
func classify(err error) *apierrors.Error {
	var apiErr *apierrors.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if v, ok := partner.IsValidation(err); ok {
		e := apierrors.Wrap(apierrors.ErrCodeInvalidArgument, v.Message, err)
		if v.Field != "" {
			e = e.WithDetails(map[string]interface{}{"fields": []FieldError{{Field: v.Field, Reason: v.Message}}})
		}
		return e
	}

	switch {
	case errors.Is(err, identity.ErrAlreadyExists):
		return apierrors.Wrap(apierrors.ErrCodeAlreadyExists, "an account with this email already exists", err)
	case errors.Is(err, identity.ErrInvalidCredential):
		return apierrors.Wrap(apierrors.ErrCodeInvalidArgument, "email or password was rejected", err)
	case errors.Is(err, documents.ErrAlreadyExists):
		return apierrors.Wrap(apierrors.ErrCodeAlreadyExists, "record already exists", err)
	case errors.Is(err, partner.ErrDisabled):
		return apierrors.Wrap(apierrors.ErrCodeFailedPrecondition, "customer accounts are not available", err)
	case partner.IsTransient(err):
		return apierrors.Wrap(apierrors.ErrCodeUnavailable, "partner service is temporarily unavailable", err)
	case errors.Is(err, wallet.ErrInvalidAddress):
		return apierrors.Wrap(apierrors.ErrCodeInvalidArgument, "wallet address is invalid", err).
			WithDetails(map[string]interface{}{"fields": []FieldError{{Field: "address", Reason: "must be a base58 public key"}}})
	case errors.Is(err, wallet.ErrAccountNotFound):
		return apierrors.Wrap(apierrors.ErrCodeInvalidArgument, "wallet account does not exist on chain", err)
	default:
		return apierrors.Wrap(apierrors.ErrCodeInternalError, "the request could not be completed", err)
	}
}

// unavailable wraps a read failure from a source system.
func unavailable(err error) *apierrors.Error {
	return apierrors.Wrap(apierrors.ErrCodeUnavailable, "a required service is temporarily unavailable", err)
}
