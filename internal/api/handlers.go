// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"github.com/toeirei/netkeeper/internal/model"
)

type ownerJSON struct {
	ExternalID  int64      `json:"external_id"`
	DisplayName string     `json:"display_name,omitempty"`
	State       string     `json:"state"`
	SiteToken   string     `json:"site_token,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toOwnerJSON(o *model.Owner) ownerJSON {
	return ownerJSON{
		ExternalID:  o.ExternalID,
		DisplayName: o.DisplayName,
		State:       string(o.State),
		SiteToken:   o.SiteToken,
		VerifiedAt:  o.VerifiedAt,
		CreatedAt:   o.CreatedAt,
	}
}

// profileJSON never carries the private key; it is only handed out inside
// the rendered config.
type profileJSON struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Address   string    `json:"address"`
	PublicKey string    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
}

func toProfileJSON(p *model.Profile) profileJSON {
	return profileJSON{
		ID:        p.ID,
		Name:      p.Name,
		Category:  string(p.Category),
		Address:   p.Address.String(),
		PublicKey: p.PublicKey,
		CreatedAt: p.CreatedAt,
	}
}

type registerOwnerRequest struct {
	ExternalID  int64  `json:"external_id" binding:"required"`
	DisplayName string `json:"display_name"`
}

type createProfileRequest struct {
	Name     string `json:"name" binding:"required"`
	Category string `json:"category" binding:"required"`
}

type renameProfileRequest struct {
	Name string `json:"name" binding:"required"`
}

func int64Param(c *gin.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

func (s *Server) healthz(c *gin.Context) {
	if s.opts.Health != nil {
		if err := s.opts.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) registerOwner(c *gin.Context) {
	const op = "register_owner"
	var req registerOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, op, err)
		return
	}
	o, created, err := s.svc.RegisterOwner(c.Request.Context(), req.ExternalID, req.DisplayName)
	if err != nil {
		s.respondError(c, op, err)
		return
	}
	s.metrics.observe(op, "ok")
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, toOwnerJSON(o))
}

func (s *Server) listOwners(c *gin.Context) {
	const op = "list_owners"
	state, err := model.ParseOwnerState(c.DefaultQuery("state", string(model.OwnerPending)))
	if err != nil {
		s.badRequest(c, op, err)
		return
	}
	owners, err := s.svc.OwnersByState(c.Request.Context(), state)
	if err != nil {
		s.respondError(c, op, err)
		return
	}
	out := make([]ownerJSON, 0, len(owners))
	for i := range owners {
		out = append(out, toOwnerJSON(&owners[i]))
	}
	s.metrics.observe(op, "ok")
	c.JSON(http.StatusOK, out)
}

func (s *Server) getOwner(c *gin.Context) {
	const op = "get_owner"
	ext, err := int64Param(c, "ext")
	if err != nil {
		s.badRequest(c, op, err)
		return
	}
	o, err := s.svc.Owner(c.Request.Context(), ext)
	if err != nil {
		s.respondError(c, op, err)
		return
	}
	s.metrics.observe(op, "ok")
	c.JSON(http.StatusOK, toOwnerJSON(o))
}

func (s *Server) approveOwner(c *gin.Context) {
	s.ownerTransition(c, "approve_owner", s.svc.ApproveOwner)
}
func (s *Server) rejectOwner(c *gin.Context) { s.ownerTransition(c, "reject_owner", s.svc.RejectOwner) }
func (s *Server) unbanOwner(c *gin.Context)  { s.ownerTransition(c, "unban_owner", s.svc.UnbanOwner) }
func (s *Server) resetSiteToken(c *gin.Context) {
	s.ownerTransition(c, "reset_site_token", s.svc.ResetSiteToken)
}

func (s *Server) ownerTransition(c *gin.Context, op string, apply func(ctx context.Context, ext int64) (*model.Owner, error)) {
	ext, err := int64Param(c, "ext")
	if err != nil {
		s.badRequest(c, op, err)
		return
	}
	o, err := apply(c.Request.Context(), ext)
	if err != nil {
		s.respondError(c, op, err)
		return
	}
	s.metrics.observe(op, "ok")
	c.JSON(http.StatusOK, toOwnerJSON(o))
}

func (s *Server) listProfiles(c *gin.Context) {
	const op = "list_profiles"
	ext, err := int64Param(c, "ext")
	if err != nil {
		s.badRequest(c, op, err)
		return
	}
	profiles, err := s.svc.ListProfiles(c.Request.Context(), ext)
	if err != nil {
		s.respondError(c, op, err)
		return
	}
	out := make([]profileJSON, 0, len(profiles))
	for i := range profiles {
		out = append(out, toProfileJSON(&profiles[i]))
	}
	s.metrics.observe(op, "ok")
	c.JSON(http.StatusOK, out)
}

func (s *Server) createProfile(c *gin.Context) {
	const op = "create_profile"
	ext, err := int64Param(c, "ext")
	if err != nil {
		s.badRequest(c, op, err)
		return
	}
	var req createProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, op, err)
		return
	}
	p, err := s.svc.CreateProfile(c.Request.Context(), ext, req.Name, model.Category(req.Category))
	if err != nil {
		s.respondError(c, op, err)
		return
	}
	s.metrics.observe(op, "ok")
	c.JSON(http.StatusCreated, gin.H{"profile": toProfileJSON(p), "config": p.Config})
}

func (s *Server) getProfile(c *gin.Context) {
	const op = "get_profile"
	id, err := int64Param(c, "id")
	if err != nil {
		s.badRequest(c, op, err)
		return
	}
	p, err := s.svc.Profile(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, op, err)
		return
	}
	s.metrics.observe(op, "ok")
	c.JSON(http.StatusOK, toProfileJSON(p))
}

func (s *Server) getConfig(c *gin.Context) {
	const op = "get_config"
	id, err := int64Param(c, "id")
	if err != nil {
		s.badRequest(c, op, err)
		return
	}
	cfg, err := s.svc.GetConfig(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, op, err)
		return
	}
	s.metrics.observe(op, "ok")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="netkeeper-%d.conf"`, id))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(cfg))
}

func (s *Server) getQR(c *gin.Context) {
	const op = "get_qr"
	id, err := int64Param(c, "id")
	if err != nil {
		s.badRequest(c, op, err)
		return
	}
	cfg, err := s.svc.GetConfig(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, op, err)
		return
	}
	png, err := qrcode.Encode(cfg, qrcode.Medium, 256)
	if err != nil {
		s.respondError(c, op, err)
		return
	}
	s.metrics.observe(op, "ok")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) renameProfile(c *gin.Context) {
	const op = "rename_profile"
	id, err := int64Param(c, "id")
	if err != nil {
		s.badRequest(c, op, err)
		return
	}
	var req renameProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, op, err)
		return
	}
	p, err := s.svc.RenameProfile(c.Request.Context(), id, req.Name)
	if err != nil {
		s.respondError(c, op, err)
		return
	}
	s.metrics.observe(op, "ok")
	c.JSON(http.StatusOK, toProfileJSON(p))
}

func (s *Server) deleteProfile(c *gin.Context) {
	const op = "delete_profile"
	id, err := int64Param(c, "id")
	if err != nil {
		s.badRequest(c, op, err)
		return
	}
	if err := s.svc.DeleteProfile(c.Request.Context(), id); err != nil {
		s.respondError(c, op, err)
		return
	}
	s.metrics.observe(op, "ok")
	c.Status(http.StatusNoContent)
}
