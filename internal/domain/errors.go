package domain

import "errors"

var (
	ErrLiveURLWithoutDeployed = errors.New("domain: live url may only be set when deployed")
	ErrErrorWithoutFailed     = errors.New("domain: error message may only be set when failed")
	ErrUnknownStatus          = errors.New("domain: unknown deployment status")
)
