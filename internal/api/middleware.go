package api

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ammpool-backend/internal/identity"
)

const (
	headerSigner    = "X-Pool-Signer"
	headerSignature = "X-Pool-Signature"
	headerTimestamp = "X-Pool-Timestamp"

	maxBodyBytes = 1 << 20
)

type callerKey struct{}

// callerFrom returns the authenticated caller stored by authenticated.
func callerFrom(ctx context.Context) common.Address {
	addr, _ := ctx.Value(callerKey{}).(common.Address)
	return addr
}

// authenticated resolves the caller address from the signature headers and
// stores it in the request context. With signatures disabled the signer
// header is trusted as-is.
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signer := r.Header.Get(headerSigner)
		if !common.IsHexAddress(signer) {
			writeError(w, http.StatusUnauthorized, headerSigner+" header must be a hex address")
			return
		}
		caller := common.HexToAddress(signer)

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "could not read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if s.opts.RequireSignatures {
			err := identity.VerifyRequest(
				r.Method, r.URL.Path,
				r.Header.Get(headerTimestamp), body,
				r.Header.Get(headerSignature),
				caller, s.now(), s.opts.SignatureMaxSkew,
			)
			if err != nil {
				s.logger.WarnContext(r.Context(), "api: rejected signature",
					slog.String("signer", caller.Hex()),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			if !s.claimRequest(w, r, caller, body) {
				return
			}
		}

		next(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

// claimRequest records a verified request so it is accepted only once.
func (s *Server) claimRequest(w http.ResponseWriter, r *http.Request, caller common.Address, body []byte) bool {
	key, err := identity.RequestKey(caller, r.Method, r.URL.Path, r.Header.Get(headerTimestamp), body)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return false
	}
	fresh, err := s.opts.Replay.Claim(r.Context(), key)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "api: replay guard failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "could not check request replay")
		return false
	}
	if !fresh {
		s.logger.WarnContext(r.Context(), "api: replayed request",
			slog.String("signer", caller.Hex()),
			slog.String("path", r.URL.Path),
		)
		writeError(w, http.StatusUnauthorized, identity.ErrReplayedRequest.Error())
		return false
	}
	return true
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+headerSigner+", "+headerSignature+", "+headerTimestamp)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is required by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.DebugContext(r.Context(), "api: request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

func recoverMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logger.ErrorContext(r.Context(), "api: handler panic",
					slog.String("path", r.URL.Path),
					slog.Any("panic", v),
				)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
