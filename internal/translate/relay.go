package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/voxlate/voxlate/internal/api"
	"github.com/voxlate/voxlate/internal/credit"
	"github.com/voxlate/voxlate/internal/entitlement"
	"github.com/voxlate/voxlate/internal/orchestrator"
	"github.com/voxlate/voxlate/internal/relay"
)

// relayRequest is the payload relayed from a companion device. It reuses
// the HTTP DTO plus the metering identity, since the companion link has no
// headers of its own.
type relayRequest struct {
	TranslateAudioRequest
	DeviceID string `json:"device_id"`
}

// RelayHandler forwards translation requests over the device relay and
// blocks for the correlated response.
type RelayHandler struct {
	relay *relay.Relay
}

func NewRelayHandler(r *relay.Relay) *RelayHandler {
	return &RelayHandler{relay: r}
}

// TranslateViaRelay handles POST /v1/relay/translate: the phone-side entry
// point for a translation executed on the paired device's connection.
func (h *RelayHandler) TranslateViaRelay(w http.ResponseWriter, r *http.Request) {
	var req relayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, api.ErrBadRequest)
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = r.Header.Get("X-Device-ID")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		api.WriteError(w, api.ErrInternalServer)
		return
	}

	requestID, err := h.relay.Send(r.Context(), payload)
	if err != nil {
		api.WriteError(w, mapRelayError(err))
		return
	}

	respPayload, err := h.relay.Await(r.Context(), requestID)
	if err != nil {
		api.WriteError(w, mapRelayError(err))
		return
	}

	var resp TranslateAudioResponse
	if err := json.Unmarshal(respPayload, &resp); err != nil {
		api.WriteError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

func mapRelayError(err error) error {
	switch {
	case errors.Is(err, relay.ErrUnreachable):
		return api.ErrRelayUnreachable
	case errors.Is(err, relay.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return api.ErrRelayTimeout
	default:
		return api.ErrInternalServer
	}
}

// Responder answers relayed translation requests: the side of the link
// that actually reaches the backend pipeline.
type Responder struct {
	orch       *orchestrator.Orchestrator
	gate       *entitlement.Gate
	deviceSalt string
}

func NewResponder(orch *orchestrator.Orchestrator, gate *entitlement.Gate, deviceSalt string) *Responder {
	return &Responder{orch: orch, gate: gate, deviceSalt: deviceSalt}
}

// Handle runs one relayed request through the entitlement gate and the
// orchestrator. It matches the signature relay.Serve wants.
func (rp *Responder) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	var req relayRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decoding relayed request: %w", err)
	}
	if req.DeviceID == "" {
		return nil, fmt.Errorf("relayed request carries no device identity")
	}

	id := credit.Anonymous(credit.HashDeviceID(req.DeviceID, rp.deviceSalt))

	audio, err := decodeAudio(req.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding relayed audio: %w", err)
	}

	adm, err := rp.gate.Admit(ctx, id, estimateSeconds(audio))
	if err != nil {
		return nil, err
	}

	resp, err := rp.orch.TranslateAudio(ctx, orchestrator.Request{
		Audio:         audio,
		AudioEncoding: req.AudioEncoding,
		SampleRate:    req.SampleRate,
		Text:          req.Text,
		SourceLang:    req.SourceLanguage,
		TargetLang:    req.TargetLanguage,
		VoiceGender:   req.VoiceGender,
		SpeakingRate:  req.SpeakingRate,
		ReturnAudio:   req.ReturnAudio == nil || *req.ReturnAudio,
	})
	if err != nil {
		if recErr := rp.gate.Reconcile(ctx, adm, 0); recErr != nil {
			return nil, errors.Join(err, recErr)
		}
		return nil, err
	}

	if err := rp.gate.Reconcile(ctx, adm, int64(resp.ConsumedSeconds)); err != nil {
		return nil, err
	}

	return json.Marshal(toAudioResponse(resp))
}
