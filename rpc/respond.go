package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	coreerrors "github.com/nickbax/ump-auction-test/core/errors"
	"github.com/nickbax/ump-auction-test/core/types"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	if coreerrors.IsNotFound(err) {
		return http.StatusNotFound
	}
	switch coreerrors.KindOf(err) {
	case coreerrors.KindAuthorization:
		return http.StatusForbidden
	case coreerrors.KindState:
		return http.StatusConflict
	case coreerrors.KindParameter:
		return http.StatusBadRequest
	case coreerrors.KindResource:
		return http.StatusUnprocessableEntity
	case coreerrors.KindTransfer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Code: "Internal", Message: err.Error()}
	var typed *coreerrors.Error
	if errors.As(err, &typed) {
		body.Code = typed.Code
		body.Kind = typed.Kind.String()
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err, "request_id", RequestIDFromContext(r.Context()))
		body.Message = http.StatusText(status)
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

// badRequest wraps a decoding failure so it maps onto the parameter kind.
func badRequest(format string, args ...interface{}) error {
	return coreerrors.Wrap(coreerrors.ErrInvalidParameters, format, args...)
}

// decodeJSON reads a strict JSON body into out. An empty body leaves out
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest("decode request body: %v", err)
	}
	if dec.More() {
		return badRequest("request body must hold a single JSON object")
	}
	return nil
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, badRequest("%s must be a hex address", field)
	}
	return common.HexToAddress(raw), nil
}

// parseOptionalAddress treats an empty string as the zero address, which the
// engines read as native currency or "no affiliate".
func parseOptionalAddress(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	return parseAddress(field, raw)
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, badRequest("%s must be a decimal amount: %v", field, err)
	}
	return v, nil
}

func pathAddress(r *http.Request, name string) (common.Address, error) {
	return parseAddress(name, chi.URLParam(r, name))
}

func pathUint(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, badRequest("%s must be an unsigned integer", name)
	}
	return v, nil
}

func callerOf(r *http.Request) (common.Address, error) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		return common.Address{}, fmt.Errorf("rpc: caller missing from request context")
	}
	return caller, nil
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func optionalAddress(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}

// messageJSON is the wire form of an encrypted note. Fields are 0x-prefixed
// hex.
type messageJSON struct {
	EncryptedData      hexutil.Bytes `json:"encryptedData,omitempty"`
	EphemeralPublicKey hexutil.Bytes `json:"ephemeralPublicKey,omitempty"`
	IV                 hexutil.Bytes `json:"iv,omitempty"`
	VerificationHash   hexutil.Bytes `json:"verificationHash,omitempty"`
}

func (m *messageJSON) toMessage() types.EncryptedMessage {
	if m == nil {
		return types.EncryptedMessage{}
	}
	return types.EncryptedMessage{
		EncryptedData:      m.EncryptedData,
		EphemeralPublicKey: m.EphemeralPublicKey,
		IV:                 m.IV,
		VerificationHash:   m.VerificationHash,
	}
}

func messageFrom(msg types.EncryptedMessage) *messageJSON {
	if msg.Empty() {
		return nil
	}
	return &messageJSON{
		EncryptedData:      msg.EncryptedData,
		EphemeralPublicKey: msg.EphemeralPublicKey,
		IV:                 msg.IV,
		VerificationHash:   msg.VerificationHash,
	}
}

type finalMessageRequest struct {
	Message *messageJSON `json:"message"`
}

// rescueRequest withdraws stranded assets. Kind is one of native, fungible
// or nft.
type rescueRequest struct {
	Kind   string `json:"kind"`
	Token  string `json:"token,omitempty"`
	ItemID uint64 `json:"itemId,omitempty"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type rescueTarget interface {
	RescueNative(ctx context.Context, caller, addr, to common.Address, amount *uint256.Int) error
	RescueFungible(ctx context.Context, caller, addr, token, to common.Address, amount *uint256.Int) error
	RescueNFT(ctx context.Context, caller, addr, contract common.Address, itemID uint64, to common.Address, amount uint64) error
}

func (s *Server) rescue(w http.ResponseWriter, r *http.Request, target rescueTarget) {
	caller, err := callerOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, err := pathAddress(r, "addr")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req rescueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	switch req.Kind {
	case "native":
		err = target.RescueNative(r.Context(), caller, addr, to, amount)
	case "fungible":
		var token common.Address
		if token, err = parseAddress("token", req.Token); err == nil {
			err = target.RescueFungible(r.Context(), caller, addr, token, to, amount)
		}
	case "nft":
		var contract common.Address
		if contract, err = parseAddress("token", req.Token); err == nil {
			if !amount.IsUint64() {
				err = badRequest("amount overflows an item count")
			} else {
				err = target.RescueNFT(r.Context(), caller, addr, contract, req.ItemID, to, amount.Uint64())
			}
		}
	default:
		err = badRequest("unknown rescue kind %q", req.Kind)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
