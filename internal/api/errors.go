// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/toeirei/netkeeper/internal/core"
	"golang.org/x/text/language"
)

type errorBody struct {
	Error     string `json:"error"`
	Reason    string `json:"reason"`
	RequestID string `json:"request_id,omitempty"`
}

var kindStatus = map[core.Kind]int{
	core.KindValidation:             http.StatusBadRequest,
	core.KindNotFound:               http.StatusNotFound,
	core.KindNotEligible:            http.StatusForbidden,
	core.KindQuotaExceeded:          http.StatusConflict,
	core.KindDuplicateName:          http.StatusConflict,
	core.KindAddressConflict:        http.StatusConflict,
	core.KindPoolExhausted:          http.StatusServiceUnavailable,
	core.KindKeygenFailed:           http.StatusInternalServerError,
	core.KindPeerActivationFailed:   http.StatusBadGateway,
	core.KindPeerDeactivationFailed: http.StatusBadGateway,
	core.KindCompensationFailed:     http.StatusInternalServerError,
	core.KindInternal:               http.StatusInternalServerError,
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(k core.Kind) int {
	if s, ok := kindStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// preferredLanguages returns the base languages from Accept-Language.
func preferredLanguages(c *gin.Context) string {
	tags, _, err := language.ParseAcceptLanguage(c.GetHeader("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return ""
	}
	base, _ := tags[0].Base()
	return base.String()
}

func (s *Server) respondError(c *gin.Context, op string, err error) {
	kind := core.KindOf(err)
	s.metrics.observe(op, kind.String())
	c.AbortWithStatusJSON(StatusFor(kind), errorBody{
		Error:     kind.String(),
		Reason:    core.Reason(err, preferredLanguages(c)),
		RequestID: c.GetString(requestIDKey),
	})
}

func (s *Server) badRequest(c *gin.Context, op string, err error) {
	s.respondError(c, op, &core.Error{Kind: core.KindValidation, Op: op, Err: err})
}
