package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"agentlink/internal/domain"
	"agentlink/internal/usecase"
)

// errorBody is the typed error envelope every failing endpoint returns.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Hint    string           `json:"hint,omitempty"`
}

// statusFor maps a domain error code to its HTTP status.
func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeNoTarget, domain.CodeInvalidInput, domain.CodeProtocolInvalid:
		return http.StatusBadRequest
	case domain.CodeAgentNotFound, domain.CodeNoSuitableAgent, domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeNoAgentsAvailable, domain.CodeRegistryUnavailable, domain.CodeUnavailable:
		return http.StatusServiceUnavailable
	case domain.CodeTimeout, domain.CodeProviderTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeRemoteError, domain.CodeProviderError:
		return http.StatusBadGateway
	case domain.CodeProtocolFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// hints name the corrective action for each user-facing code.
var hints = map[domain.ErrorCode]string{
	domain.CodeNoTarget:            usecase.NoTargetHint,
	domain.CodeAgentNotFound:       "Register the agent via POST /agents/register or refresh the registry with POST /agents/refresh. GET /agents lists known ids.",
	domain.CodeNoSuitableAgent:     "No known agent describes this capability. Rephrase the query, mention an agent directly with @agent-id, or register one first.",
	domain.CodeNoAgentsAvailable:   "The registry is empty. Check registry.directories or register an agent via POST /agents/register.",
	domain.CodeRegistryUnavailable: "The agent directory could not be reached; the previous agent list is still served. Retry later.",
	domain.CodeTimeout:             "The agent did not answer in time. Retry later or ask a different agent.",
	domain.CodeProviderTimeout:     "The language model did not answer in time. Retry later.",
	domain.CodeRemoteError:         "The remote agent failed. Check that it is running, or ask a different agent.",
	domain.CodeProviderError:       "The language model provider failed. Check llm.api_key and the provider status.",
	domain.CodeProtocolInvalid:     "Check the participant count for the protocol: debate takes 3, consensus 1 or more, hierarchical a manager plus workers.",
	domain.CodeUnavailable:         "This service is not configured for the operation. Configure llm.provider to answer locally.",
}

// errorFor builds the envelope and status for err.
func errorFor(err error) (int, errorBody) {
	code := domain.ErrorCodeOf(err)
	body := errorBody{Error: errorDetail{Code: code, Message: err.Error(), Hint: hints[code]}}
	if code == domain.CodeNoTarget {
		body.Error.Message = domain.ErrNoTarget.Error()
	}
	var de *domain.DomainError
	if code == domain.CodeUnknown && !errors.As(err, &de) {
		// Unclassified errors may carry internals; keep them in the log only.
		body.Error.Message = "internal error"
	}
	return statusFor(code), body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "path", r.URL.Path, "code", body.Error.Code, "error", err)
	}
	writeJSON(w, status, body)
}

func invalidInput(op, detail string) error {
	return domain.NewDomainError(op, domain.ErrInvalidInput, detail)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return invalidInput("gateway.decode", "malformed JSON body: "+err.Error())
	}
	return nil
}
