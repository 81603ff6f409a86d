package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"autohodl/internal/storage"
)

// DefaultSignatureHeader is the header the notification source signs with.
const DefaultSignatureHeader = "x-signature"

// Processor settles classified spend events. Outcomes are internal to the service and never
// change the response returned to the notification source.
type Processor interface {
	Process(ctx context.Context, events []storage.SpendEvent)
}

// Recorder observes handler responses.
type Recorder interface {
	ObserveWebhook(status int, outcome string)
}

// HandlerOptions configure the inbound notification handler.
type HandlerOptions struct {
	Verifier        *Verifier
	Classifier      *Classifier
	Processor       Processor
	Recorder        Recorder
	SignatureHeader string
	MaxBodyBytes    int64
}

// Handler serves the inbound notification endpoint.
type Handler struct {
	opts   HandlerOptions
	logger zerolog.Logger
}

// NewHandler constructs the notification handler.
func NewHandler(opts HandlerOptions, logger zerolog.Logger) *Handler {
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = DefaultSignatureHeader
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &Handler{opts: opts, logger: logger.With().Str("component", "webhook").Logger()}
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message            string `json:"message"`
	ProcessedTransfers *int   `json:"processedTransfers,omitempty"`
}

// ServeHTTP dispatches by method.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.respond(w, http.StatusOK, "info", messageResponse{Message: "Moralis webhook endpoint"})
	default:
		h.respond(w, http.StatusMethodNotAllowed, "method_not_allowed", errorResponse{Error: "Method not allowed"})
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to read webhook body")
		h.respond(w, http.StatusBadRequest, "malformed", errorResponse{Error: "Invalid JSON payload"})
		return
	}

	ok, err := h.opts.Verifier.Verify(body, r.Header.Get(h.opts.SignatureHeader))
	switch {
	case errors.Is(err, ErrSecretNotConfigured):
		h.logger.Error().Msg("webhook secret not configured")
		h.respond(w, http.StatusInternalServerError, "secret_missing", errorResponse{Error: "Webhook secret not configured"})
		return
	case err != nil:
		h.logger.Error().Err(err).Msg("signature verification failed")
		h.respond(w, http.StatusUnauthorized, "unauthorized", errorResponse{Error: "Signature verification failed"})
		return
	}

	if r.Header.Get(h.opts.SignatureHeader) == "" {
		h.logger.Warn().Msg("no signature provided in webhook")
		h.respond(w, http.StatusUnauthorized, "unauthorized", errorResponse{Error: "No signature provided"})
		return
	}
	if !ok {
		h.logger.Warn().Msg("invalid webhook signature")
		h.respond(w, http.StatusUnauthorized, "unauthorized", errorResponse{Error: "Invalid signature"})
		return
	}

	payload, err := ParsePayload(body)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to parse webhook payload")
		h.respond(w, http.StatusBadRequest, "malformed", errorResponse{Error: "Invalid JSON payload"})
		return
	}

	h.logger.Info().
		Str("chain_id", payload.ChainID).
		Bool("confirmed", payload.Confirmed).
		Int("transfer_count", len(payload.ERC20Transfers)).
		Msg("received webhook")

	if !payload.Confirmed {
		h.respond(w, http.StatusOK, "unconfirmed", messageResponse{Message: "Transaction not confirmed yet"})
		return
	}

	events, err := h.opts.Classifier.Classify(payload)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to classify transfers")
		h.respond(w, http.StatusBadRequest, "malformed", errorResponse{Error: "Invalid JSON payload"})
		return
	}
	if len(events) == 0 {
		h.respond(w, http.StatusOK, "irrelevant", messageResponse{Message: "No relevant transfers found"})
		return
	}

	h.logger.Info().Int("relevant_transfers", len(events)).Msg("found relevant transfers")

	if h.opts.Processor != nil {
		// settlement must not be abandoned when the notifier hangs up
		h.opts.Processor.Process(context.WithoutCancel(r.Context()), events)
	}

	processed := len(events)
	h.respond(w, http.StatusOK, "processed", messageResponse{
		Message:            "Webhook processed successfully",
		ProcessedTransfers: &processed,
	})
}

func (h *Handler) respond(w http.ResponseWriter, status int, outcome string, body any) {
	if h.opts.Recorder != nil {
		h.opts.Recorder.ObserveWebhook(status, outcome)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
