// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"
	CodeConfigValidateMissingKey   Code = "config.validate.missing_key"

	CodeConvoNotFound     Code = "convo.get.not_found"
	CodeConvoInvalidInput Code = "convo.append.invalid_input"
	CodeConvoStateInvalid Code = "convo.state.invalid"

	CodeGateRuleInvalid   Code = "gate.rule.invalid"
	CodeGateStateInvalid  Code = "gate.state.invalid"
	CodeGateInputTooLarge Code = "gate.input.too_large"

	CodeRouteInvalidInput Code = "route.plan.invalid_input"

	CodeToolUnavailable  Code = "tool.call.unavailable"
	CodeToolTimeout      Code = "tool.call.timeout"
	CodeToolNotFound     Code = "tool.lookup.not_found"
	CodeToolAmbiguous    Code = "tool.lookup.ambiguous"
	CodeToolDisabled     Code = "tool.channel.disabled"
	CodeToolUnknown      Code = "tool.name.unknown"
	CodeToolInvalidQuery Code = "tool.query.invalid_input"

	CodeRecordStoreFailure Code = "record.store.database.failure"
	CodeRecordStoreOpen    Code = "record.store.open.failure"
	CodeRecordStoreWrite   Code = "record.store.write.failure"
	CodeRecordStoreRead    Code = "record.store.read.failure"

	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"
	CodeProviderTimeout         Code = "provider.call.timeout"
	CodeProviderNotFound        Code = "provider.registry.not_found"
	CodeProviderAllUnavailable  Code = "provider.routing.all_unavailable"
	CodeProviderInvalidModelRef Code = "provider.routing.invalid_model_ref"

	CodeComposePolicyViolation Code = "compose.contract.policy_violation"
	CodeComposeInvalidInput    Code = "compose.render.invalid_input"

	CodeEngineTurnFailure  Code = "engine.turn.failure"
	CodeEngineInvalidInput Code = "engine.turn.invalid_input"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerStartFailure    Code = "server.start.failure"
	CodeServerShutdownFailure Code = "server.shutdown.failure"

	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeCLIInputInvalid Code = "cli.input.invalid"

	CodeSecretInvalidInput   Code = "secret.input.invalid"
	CodeSecretNotFound       Code = "secret.lookup.not_found"
	CodeSecretStoreFailure   Code = "secret.store.failure"
	CodeSecretDeleteFailure  Code = "secret.delete.failure"
	CodeSecretListFailure    Code = "secret.list.failure"
	CodeSecretResolveFailure Code = "secret.resolve.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldConversationID(value string) Attr {
	return Field("conversation_id", value)
}

func FieldTurnID(value string) Attr {
	return Field("turn_id", value)
}

func FieldTool(value string) Attr {
	return Field("tool", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsAmbiguous(err error) bool {
	return reason(CodeOf(err)) == "ambiguous"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_query" || r == "invalid_model_ref"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

// IsToolUnavailable covers both backend failures and timeouts on a tool
// call; the grounding policy treats the two identically.
func IsToolUnavailable(err error) bool {
	code := CodeOf(err)
	if !strings.HasPrefix(string(code), "tool.") {
		return false
	}
	r := reason(code)
	return r == "unavailable" || r == "timeout"
}

// IsModelUnavailable reports whether the generation call failed or timed
// out. Fatal for the turn only; conversation state survives.
func IsModelUnavailable(err error) bool {
	code := CodeOf(err)
	if !strings.HasPrefix(string(code), "provider.") {
		return false
	}
	r := reason(code)
	return r == "failure" || r == "timeout" || r == "all_unavailable"
}

// IsPolicyViolation reports a composer contract failure. This is a
// programming error and must never reach the user.
func IsPolicyViolation(err error) bool {
	return reason(CodeOf(err)) == "policy_violation"
}

func IsDisabled(err error) bool {
	return reason(CodeOf(err)) == "disabled"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsAmbiguous(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsTimeout(err), IsModelUnavailable(err), IsToolUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
