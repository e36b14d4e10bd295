// SPDX-License-Identifier: MPL-2.0

package host

import (
	"errors"

	"github.com/funcbox/funcbox/internal/console"
	"github.com/funcbox/funcbox/internal/protocol"
	"github.com/funcbox/funcbox/internal/sandbox"
)

// jobFor converts a validated request into a sandbox job.
func jobFor(req *protocol.Request) sandbox.Job {
	job := sandbox.Job{
		ExecutionID:      req.ExecutionID,
		Main:             sandbox.CodeUnit{Code: req.MainFunction.Code, Handler: req.MainFunction.HandlerName},
		Args:             req.Args,
		Timeout:          req.Timeout(),
		SensitiveStrings: req.SensitiveStrings,
	}
	for _, b := range req.BeforeFunctions {
		job.Before = append(job.Before, sandbox.CodeUnit{Code: b.Code, Handler: b.HandlerName, Arg: b.Arg})
	}
	return job
}

// resultFor packages an outcome. Successful values are checked against the
// request kind and scrubbed of sensitive strings.
func resultFor(req *protocol.Request, out *sandbox.Outcome) *protocol.Result {
	id, kind := req.ExecutionID, req.Kind
	redactor := console.NewRedactor(req.SensitiveStrings)

	switch out.State {
	case sandbox.StateCompleted:
		payload, err := protocol.Normalize(kind, out.Value, out.Undefined)
		if err != nil {
			return protocol.NewFailure(id, kind, protocol.ErrorKindInvalidReturnType, redactor.Redact(err.Error()), out.Duration)
		}
		return protocol.NewSuccess(id, kind, redactor.RedactValue(payload), out.Duration)
	case sandbox.StateTimedOut:
		return protocol.NewTimeout(id, kind, out.Duration)
	default:
		msg := "execution failed"
		if out.Err != nil {
			msg = redactor.Redact(out.Err.Error())
		}
		return protocol.NewFailure(id, kind, errorKindFor(out.Err), msg, out.Duration)
	}
}

func errorKindFor(err error) protocol.ErrorKind {
	switch {
	case errors.Is(err, sandbox.ErrLoad):
		return protocol.ErrorKindLoad
	case errors.Is(err, sandbox.ErrUserCode):
		return protocol.ErrorKindUserCode
	case errors.Is(err, sandbox.ErrKilled):
		return protocol.ErrorKindKilled
	default:
		return protocol.ErrorKindSandbox
	}
}

// invalidResult answers a request that decoded but failed validation.
func invalidResult(req *protocol.Request) *protocol.Result {
	msg := protocol.ErrInvalidRequest.Error()
	if err := req.Validate(); err != nil {
		msg = err.Error()
	}
	return protocol.NewFailure(req.ExecutionID, req.Kind, protocol.ErrorKindInvalidRequest, msg, 0)
}
